package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type correlationIDCtxKey struct{}

// CorrelationIDHeader carries the per-request correlation id.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationIDMiddleware stores the inbound X-Correlation-ID, or a new
// UUID when absent, in the request context and echoes it in the response.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, cid)
		ctx := context.WithValue(r.Context(), correlationIDCtxKey{}, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID returns the id stored by CorrelationIDMiddleware.
func GetCorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDCtxKey{}).(string)
	return id, ok
}

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		cid, _ := GetCorrelationID(r.Context())
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.log().Debug("request", "domain", "http", "cid", cid,
			"method", r.Method, "path", r.URL.Path, "status", status,
			"bytes", ww.BytesWritten(), "duration", time.Since(start))
	})
}
