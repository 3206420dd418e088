package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/session"
)

func TestOpenSession(t *testing.T) {
	h, _, ses := newTestHandler()
	ses.snap = session.Snapshot{ID: "s1", State: session.StateReady}
	rw := do(t, h.Router(), http.MethodPost, "/api/sessions", `{"book_id":1700000000000}`, nil)
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rw.Code, rw.Body)
	}
	var snap map[string]any
	if err := json.Unmarshal(rw.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap["id"] != "s1" || snap["state"] != "ready" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}

func TestOpenSessionErrors(t *testing.T) {
	h, _, ses := newTestHandler()
	r := h.Router()
	if rw := do(t, r, http.MethodPost, "/api/sessions", `{"book_id":0}`, nil); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id got %d", rw.Code)
	}
	if rw := do(t, r, http.MethodPost, "/api/sessions", `nope`, nil); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json got %d", rw.Code)
	}
	ses.openErr = domain.ErrBookNotFound
	if rw := do(t, r, http.MethodPost, "/api/sessions", `{"book_id":5}`, nil); rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rw.Code)
	}
}

func TestOpenSessionRendererFailureShowsMessage(t *testing.T) {
	h, _, ses := newTestHandler()
	ses.openErr = errors.New("spine: book has an empty reading order")
	rw := do(t, h.Router(), http.MethodPost, "/api/sessions", `{"book_id":5}`, nil)
	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rw.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Error loading book: spine: book has an empty reading order" {
		t.Fatalf("unexpected error text %q", body.Error)
	}
}

func TestSessionNavigationRoutes(t *testing.T) {
	h, _, ses := newTestHandler()
	r := h.Router()
	ses.snap = session.Snapshot{ID: "abc", Position: "p"}

	for _, tc := range []struct{ method, path, body, call string }{
		{http.MethodGet, "/api/sessions/abc", "", "get:abc"},
		{http.MethodPost, "/api/sessions/abc/next", "", "next:abc"},
		{http.MethodPost, "/api/sessions/abc/prev", "", "prev:abc"},
		{http.MethodPost, "/api/sessions/abc/display", `{"target":"ch2.xhtml"}`, "display:abc"},
		{http.MethodPost, "/api/sessions/abc/preset", `{"id":"sepia"}`, "preset:abc"},
	} {
		rw := do(t, r, tc.method, tc.path, tc.body, nil)
		if rw.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200 got %d", tc.method, tc.path, rw.Code)
		}
		if last := ses.calls[len(ses.calls)-1]; last != tc.call {
			t.Fatalf("%s: expected call %s got %s", tc.path, tc.call, last)
		}
	}
	if ses.target != "ch2.xhtml" || ses.preset != "sepia" {
		t.Fatalf("arguments not forwarded: %q %q", ses.target, ses.preset)
	}

	if rw := do(t, r, http.MethodPost, "/api/sessions/abc/display", `{}`, nil); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty target got %d", rw.Code)
	}
}

func TestSessionSettings(t *testing.T) {
	h, _, ses := newTestHandler()
	body := `{"font":"Georgia","font_size":18,"line_height":1.7,"background":"#fff","color":"#000"}`
	rw := do(t, h.Router(), http.MethodPut, "/api/sessions/abc/settings", body, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rw.Code)
	}
	if ses.settings.Font != "Georgia" || ses.settings.FontSize != 18 {
		t.Fatalf("settings not decoded: %+v", ses.settings)
	}

	ses.err = domain.ErrInvalidSettings
	rw = do(t, h.Router(), http.MethodPut, "/api/sessions/abc/settings", body, nil)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rw.Code)
	}
}

func TestSessionErrorStatuses(t *testing.T) {
	cases := map[error]int{
		session.ErrNotFound:          http.StatusNotFound,
		session.ErrClosed:            http.StatusGone,
		session.ErrNotReady:          http.StatusConflict,
		session.ErrInvalidTransition: http.StatusConflict,
	}
	for err, code := range cases {
		h, _, ses := newTestHandler()
		ses.err = err
		if rw := do(t, h.Router(), http.MethodPost, "/api/sessions/x/next", "", nil); rw.Code != code {
			t.Fatalf("%v: expected %d got %d", err, code, rw.Code)
		}
	}
}

func TestCloseSession(t *testing.T) {
	h, _, ses := newTestHandler()
	if rw := do(t, h.Router(), http.MethodDelete, "/api/sessions/abc", "", nil); rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rw.Code)
	}
	ses.err = session.ErrNotFound
	if rw := do(t, h.Router(), http.MethodDelete, "/api/sessions/abc", "", nil); rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rw.Code)
	}
}

func TestPresets(t *testing.T) {
	h, _, _ := newTestHandler()
	rw := do(t, h.Router(), http.MethodGet, "/api/presets", "", nil)
	var presets []domain.Preset
	if err := json.Unmarshal(rw.Body.Bytes(), &presets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(presets) != len(domain.Presets()) || presets[0].ID == "" {
		t.Fatalf("unexpected presets %+v", presets)
	}
}
