package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/folio/internal/app"
	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/lookup"
	"github.com/haukened/folio/internal/session"
)

type errorBody struct {
	Error      string        `json:"error"`
	ExistingID domain.BookID `json:"existing_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

// mapServiceError translates use-case errors to responses. Messages of
// user-correctable errors are shown as-is; internal failures are not.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	log := h.log().With("domain", "http", "cid", cid)

	var dup *domain.DuplicateError
	switch {
	case errors.As(err, &dup):
		log.Info("service error", "code", "duplicate", "existing_id", dup.ExistingID)
		writeJSON(w, http.StatusConflict, errorBody{Error: dup.Error(), ExistingID: dup.ExistingID})
	case errors.Is(err, app.ErrTooLarge):
		log.Warn("service error", "code", "too_large")
		h.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrUnsupportedFormat):
		log.Warn("service error", "code", "unsupported_format")
		h.writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, domain.ErrInvalidFile),
		errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, lookup.ErrEmptyInput):
		log.Warn("service error", "code", "bad_request", "error", err)
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrBookNotFound),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, session.ErrNotFound):
		log.Info("service error", "code", "not_found")
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, session.ErrClosed):
		h.writeError(w, http.StatusGone, "session closed")
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrInitialization):
		log.Warn("service error", "code", "unavailable")
		h.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, lookup.ErrMissingKey):
		log.Warn("service error", "code", "missing_key")
		h.writeError(w, http.StatusInternalServerError, "lookup not configured")
	case errors.Is(err, lookup.ErrUpstream):
		log.Warn("service error", "code", "upstream", "error", err)
		h.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "timeout")
	default:
		log.Error("unhandled service error", "code", "unhandled", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal")
	}
}
