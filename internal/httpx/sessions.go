package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/session"
)

const maxJSONBody = 64 << 10

// decodeJSON reads a small JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type snapshotFunc func(sid string) (session.Snapshot, error)

func (h *Handler) respondSnapshot(w http.ResponseWriter, r *http.Request, fn snapshotFunc) {
	snap, err := fn(chi.URLParam(r, "sid"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleOpenSession implements POST /api/sessions {"book_id": n}.
func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookID domain.BookID `json:"book_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !req.BookID.Valid() {
		h.mapServiceError(r.Context(), w, domain.ErrInvalidID)
		return
	}
	snap, err := h.Sessions.Open(r.Context(), req.BookID)
	if err != nil && snap.State == session.StateFailed && snap.Error != "" {
		cid, _ := GetCorrelationID(r.Context())
		h.log().Warn("session load failed", "domain", "http", "cid", cid, "book_id", req.BookID, "error", err)
		writeJSON(w, loadFailureStatus(err), errorBody{Error: snap.Error})
		return
	}
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// loadFailureStatus picks the status for a session that reached Failed. The
// body always carries the session's own message.
func loadFailureStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrBookNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrInitialization):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	h.respondSnapshot(w, r, h.Sessions.Snapshot)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Close(chi.URLParam(r, "sid")); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	h.respondSnapshot(w, r, func(sid string) (session.Snapshot, error) {
		return h.Sessions.Next(r.Context(), sid)
	})
}

func (h *Handler) handlePrev(w http.ResponseWriter, r *http.Request) {
	h.respondSnapshot(w, r, func(sid string) (session.Snapshot, error) {
		return h.Sessions.Prev(r.Context(), sid)
	})
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Target == "" {
		h.writeError(w, http.StatusBadRequest, "target required")
		return
	}
	h.respondSnapshot(w, r, func(sid string) (session.Snapshot, error) {
		return h.Sessions.Display(r.Context(), sid, req.Target)
	})
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	var s domain.ReadingSettings
	if err := decodeJSON(r, &s); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	h.respondSnapshot(w, r, func(sid string) (session.Snapshot, error) {
		return h.Sessions.UpdateSettings(r.Context(), sid, s)
	})
}

func (h *Handler) handlePreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ID == "" {
		h.writeError(w, http.StatusBadRequest, "preset id required")
		return
	}
	h.respondSnapshot(w, r, func(sid string) (session.Snapshot, error) {
		return h.Sessions.ApplyPreset(r.Context(), sid, req.ID)
	})
}

func (h *Handler) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, domain.Presets())
}
