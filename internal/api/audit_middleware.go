package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ama3639/telegram-bot-os-sub000/internal/security"
)

// AuditMiddleware appends one chain entry per mutating request.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			dur := time.Since(start)

			uid := r.Header.Get(UserIDHeader)
			payload := fmt.Sprintf("cid=%s method=%s path=%s user=%s status=%d dur_ms=%d",
				security.CorrelationIDFromContext(r.Context()), r.Method, r.URL.Path, uid, statusOf(ww), dur.Milliseconds())
			a.Append(payload)
		})
	}
}
