package httpx

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/haukened/folio/internal/lookup"
)

func TestDictionary(t *testing.T) {
	h, _, _ := newTestHandler()
	if rw := do(t, h.Router(), http.MethodGet, "/api/dictionary?word=x", "", nil); rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when unconfigured got %d", rw.Code)
	}

	d := &fakeDefiner{text: "word (noun)\n\n1. a unit"}
	h.Dictionary = d
	rw := do(t, h.Router(), http.MethodGet, "/api/dictionary?word=Word", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rw.Code)
	}
	var body lookupResponse
	_ = json.Unmarshal(rw.Body.Bytes(), &body)
	if body.Text != d.text || d.word != "Word" {
		t.Fatalf("unexpected %+v word=%q", body, d.word)
	}

	for err, code := range map[error]int{
		lookup.ErrEmptyInput:           http.StatusBadRequest,
		lookup.ErrMissingKey:           http.StatusInternalServerError,
		&lookup.StatusError{Code: 500}: http.StatusBadGateway,
	} {
		d.err = err
		if rw := do(t, h.Router(), http.MethodGet, "/api/dictionary?word=x", "", nil); rw.Code != code {
			t.Fatalf("%v: expected %d got %d", err, code, rw.Code)
		}
	}
}

func TestContextual(t *testing.T) {
	h, _, _ := newTestHandler()
	e := &fakeExplainer{text: "It means luck."}
	h.Contextual = e
	rw := do(t, h.Router(), http.MethodPost, "/api/contextual", `{"passage":"a happy accident"}`, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rw.Code)
	}
	if e.passage != "a happy accident" {
		t.Fatalf("passage not forwarded: %q", e.passage)
	}
	if rw := do(t, h.Router(), http.MethodPost, "/api/contextual", `[`, nil); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rw.Code)
	}
}
