package students

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const studentKey ctxKey = "courseloop.student_id"

// WithStudentID stores the student id in context.
func WithStudentID(ctx context.Context, studentID uuid.UUID) context.Context {
	return context.WithValue(ctx, studentKey, studentID)
}

// StudentIDFromContext extracts the student id if present.
func StudentIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	val := ctx.Value(studentKey)
	if val == nil {
		return uuid.Nil, false
	}
	studentID, ok := val.(uuid.UUID)
	return studentID, ok && studentID != uuid.Nil
}
