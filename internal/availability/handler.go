package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courseloop/platform/internal/rates"
	"github.com/courseloop/platform/pkg/logging"
)

const defaultWindowDays = 7

// Handler serves the availability listing.
type Handler struct {
	calc   *Calculator
	quotes *rates.QuoteStore
	logger *logging.Logger
}

func NewHandler(calc *Calculator, quotes *rates.QuoteStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{calc: calc, quotes: quotes, logger: logger}
}

type availabilityResponse struct {
	CourseID        string `json:"course_id"`
	DurationMinutes int    `json:"duration_minutes"`
	Slots           []Slot `json:"slots"`
}

// ListSlots handles GET /courses/{courseID}/availability.
// Query params: duration (minutes, default 60), from and to (RFC3339,
// default the next seven days).
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		http.Error(w, "invalid course id", http.StatusBadRequest)
		return
	}

	duration := 60
	if raw := r.URL.Query().Get("duration"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}
	}

	from := time.Now().UTC()
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
	}
	to := from.AddDate(0, 0, defaultWindowDays)
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
	}
	if !from.Before(to) {
		http.Error(w, "from must precede to", http.StatusBadRequest)
		return
	}

	slots, err := h.calc.Slots(r.Context(), courseID, from, to, duration)
	if err != nil {
		if errors.Is(err, ErrInvalidDuration) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("availability listing failed", "error", err, "course_id", courseID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	// Remember what we showed so a later checkout can report price drift.
	for _, s := range slots {
		if s.Available {
			h.quotes.Put(r.Context(), courseID, s.Start, duration, s.PriceCents)
		}
	}

	if slots == nil {
		slots = []Slot{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(availabilityResponse{
		CourseID:        courseID.String(),
		DurationMinutes: duration,
		Slots:           slots,
	})
}
