package router

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/courseloop/platform/internal/students"
)

const studentHeader = "X-Student-Id"

// requireStudentID scopes the request to a student. Upstream auth is
// expected to have validated the identity; here we only require it.
func requireStudentID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(studentHeader))
		if raw == "" {
			http.Error(w, "missing X-Student-Id", http.StatusBadRequest)
			return
		}
		studentID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid X-Student-Id", http.StatusBadRequest)
			return
		}
		ctx := students.WithStudentID(r.Context(), studentID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
