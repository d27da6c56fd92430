package rates

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/courseloop/platform/pkg/logging"
)

// QuoteStore remembers the price a student was shown for a slot, with a
// short TTL. It is advisory only: booking always reprices from the live
// hourly rate, and the stored quote exists so a price-changed rejection can
// tell the caller what they saw. Redis outages are logged and ignored.
type QuoteStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewQuoteStore creates a quote store. A nil client disables it; every
// method degrades to a miss.
func NewQuoteStore(client *redis.Client, ttl time.Duration, logger *logging.Logger) *QuoteStore {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QuoteStore{redis: client, ttl: ttl, logger: logger}
}

func quoteKey(courseID uuid.UUID, start time.Time, durationMinutes int) string {
	return fmt.Sprintf("quote:%s:%s:%d", courseID, start.UTC().Format(time.RFC3339), durationMinutes)
}

// Put records the displayed price for a slot.
func (s *QuoteStore) Put(ctx context.Context, courseID uuid.UUID, start time.Time, durationMinutes int, priceCents int64) {
	if s == nil || s.redis == nil {
		return
	}
	key := quoteKey(courseID, start, durationMinutes)
	if err := s.redis.Set(ctx, key, strconv.FormatInt(priceCents, 10), s.ttl).Err(); err != nil {
		s.logger.Warn("quote store set failed", "error", err, "key", key)
	}
}

// Get returns the quoted price if one is still cached.
func (s *QuoteStore) Get(ctx context.Context, courseID uuid.UUID, start time.Time, durationMinutes int) (int64, bool) {
	if s == nil || s.redis == nil {
		return 0, false
	}
	key := quoteKey(courseID, start, durationMinutes)
	val, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("quote store get failed", "error", err, "key", key)
		}
		return 0, false
	}
	cents, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return cents, true
}
