package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/haukened/folio/internal/app"
	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/session"
)

var errBoom = errors.New("boom")

type fakeLibrary struct {
	mu        sync.Mutex
	ingested  []app.IngestInput
	ingestRec *domain.BookRecord
	ingestErr error
	items     []app.ListItem
	listErr   error
	records   map[domain.BookID]*domain.BookRecord
	deleted   []domain.BookID
	cleared   []domain.BookID
	content   []byte
	cover     []byte
	coverType string
}

func (f *fakeLibrary) Ingest(_ context.Context, in app.IngestInput) (*domain.BookRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, in)
	return f.ingestRec, f.ingestErr
}

func (f *fakeLibrary) List(context.Context) ([]app.ListItem, error) { return f.items, f.listErr }

func (f *fakeLibrary) Get(_ context.Context, id domain.BookID) (*domain.BookRecord, error) {
	if r, ok := f.records[id]; ok {
		return r, nil
	}
	return nil, domain.ErrBookNotFound
}

func (f *fakeLibrary) Delete(_ context.Context, id domain.BookID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeLibrary) Content(_ context.Context, id domain.BookID) ([]byte, error) {
	if f.content == nil {
		return nil, domain.ErrBookNotFound
	}
	return f.content, nil
}

func (f *fakeLibrary) Cover(_ context.Context, id domain.BookID) ([]byte, string, error) {
	if f.cover == nil {
		return nil, "", domain.ErrNotFound
	}
	return f.cover, f.coverType, nil
}

func (f *fakeLibrary) ClearProgress(_ context.Context, id domain.BookID) error {
	if _, ok := f.records[id]; !ok {
		return domain.ErrBookNotFound
	}
	f.cleared = append(f.cleared, id)
	return nil
}

type fakeSessions struct {
	openErr  error
	snap     session.Snapshot
	err      error
	calls    []string
	settings domain.ReadingSettings
	target   string
	preset   string
}

func (f *fakeSessions) record(call string) (session.Snapshot, error) {
	f.calls = append(f.calls, call)
	return f.snap, f.err
}

func (f *fakeSessions) Open(_ context.Context, id domain.BookID) (session.Snapshot, error) {
	f.calls = append(f.calls, "open")
	if f.openErr != nil {
		return session.Snapshot{BookID: id, State: session.StateFailed, Error: "Error loading book: " + f.openErr.Error()}, f.openErr
	}
	s := f.snap
	s.BookID = id
	return s, nil
}

func (f *fakeSessions) Snapshot(id string) (session.Snapshot, error) { return f.record("get:" + id) }
func (f *fakeSessions) Next(_ context.Context, id string) (session.Snapshot, error) {
	return f.record("next:" + id)
}
func (f *fakeSessions) Prev(_ context.Context, id string) (session.Snapshot, error) {
	return f.record("prev:" + id)
}
func (f *fakeSessions) Display(_ context.Context, id, target string) (session.Snapshot, error) {
	f.target = target
	return f.record("display:" + id)
}
func (f *fakeSessions) UpdateSettings(_ context.Context, id string, s domain.ReadingSettings) (session.Snapshot, error) {
	f.settings = s
	return f.record("settings:" + id)
}
func (f *fakeSessions) ApplyPreset(_ context.Context, id, preset string) (session.Snapshot, error) {
	f.preset = preset
	return f.record("preset:" + id)
}
func (f *fakeSessions) Close(id string) error {
	_, err := f.record("close:" + id)
	return err
}

type fakeDefiner struct {
	word string
	text string
	err  error
}

func (f *fakeDefiner) Define(_ context.Context, word string) (string, error) {
	f.word = word
	return f.text, f.err
}

type fakeExplainer struct {
	passage string
	text    string
	err     error
}

func (f *fakeExplainer) Explain(_ context.Context, passage string) (string, error) {
	f.passage = passage
	return f.text, f.err
}

func newTestHandler() (*Handler, *fakeLibrary, *fakeSessions) {
	lib := &fakeLibrary{records: map[domain.BookID]*domain.BookRecord{}}
	ses := &fakeSessions{}
	return &Handler{Library: lib, Sessions: ses, MaxBody: 1 << 20}, lib, ses
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}
