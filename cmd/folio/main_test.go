package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/folio/internal/config"
	"github.com/haukened/folio/internal/epub/epubtest"
	"github.com/haukened/folio/internal/session"
)

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, ensureDataDir(dir))
	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	require.NoError(t, ensureDataDir(dir))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Error(t, ensureDataDir(file))
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.DefaultAppConfig
	cfg.DataDir = t.TempDir()
	cfg.Backend = backend
	return &cfg
}

func TestBackendsServeLibraryAndSessions(t *testing.T) {
	for _, name := range []string{"sqlite", "badger"} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, name)
			be, err := openBackend(cfg, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = be.Close() })

			svc := buildServices(cfg, be, nil)
			t.Cleanup(svc.closeAll)
			srv := httptest.NewServer(svc.handler)
			t.Cleanup(srv.Close)
			ctx := context.Background()

			resp, err := http.Get(srv.URL + "/readyz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

			require.NoError(t, svc.store.Initialize(ctx))
			require.NoError(t, svc.metrics.InitSchema(ctx))
			require.NoError(t, svc.readiness(ctx))

			book := epubtest.Build(epubtest.Options{Title: "Integration", Creator: "Tester", Chapters: 4})
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/books", bytes.NewReader(book))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/epub+zip")
			resp, err = http.DefaultClient.Do(req)
			require.NoError(t, err)
			var created struct {
				ID    int64  `json:"id"`
				Title string `json:"title"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
			resp.Body.Close()
			require.Equal(t, http.StatusCreated, resp.StatusCode)
			assert.Equal(t, "Integration", created.Title)

			// Same bytes again are a duplicate.
			resp, err = http.Post(srv.URL+"/api/books", "application/epub+zip", bytes.NewReader(book))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusConflict, resp.StatusCode)

			body, _ := json.Marshal(map[string]int64{"book_id": created.ID})
			resp, err = http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewReader(body))
			require.NoError(t, err)
			var snap session.Snapshot
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
			resp.Body.Close()
			require.Equal(t, http.StatusCreated, resp.StatusCode)

			resp, err = http.Post(srv.URL+"/api/sessions/"+snap.ID+"/next", "application/json", nil)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			rec, err := svc.library.Get(ctx, snap.BookID)
			require.NoError(t, err)
			require.NotNil(t, rec.ReadingProgressPercent)
			assert.Equal(t, 67, *rec.ReadingProgressPercent)

			resp, err = http.Get(srv.URL + "/api/books")
			require.NoError(t, err)
			var items []map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
			resp.Body.Close()
			require.Len(t, items, 1)
			assert.EqualValues(t, 67, items[0]["progress_percent"])

			req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+snap.ID, nil)
			resp, err = http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			assert.Equal(t, 0, svc.sessions.Len())
		})
	}
}

func TestOpenBackendRejectsBadBadgerDir(t *testing.T) {
	cfg := testConfig(t, "badger")
	require.NoError(t, os.WriteFile(cfg.BadgerDir(), []byte("x"), 0o600))
	_, err := openBackend(cfg, nil)
	assert.Error(t, err)
}
