// Package httpx is the HTTP delivery layer. It maps JSON requests onto the
// library and session use-cases and translates their errors into status
// codes. Handlers are split across files by resource.
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/folio/internal/app"
	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/session"
)

// LibraryPort is the subset of *app.Library used by the handlers.
type LibraryPort interface {
	Ingest(ctx context.Context, in app.IngestInput) (*domain.BookRecord, error)
	List(ctx context.Context) ([]app.ListItem, error)
	Get(ctx context.Context, id domain.BookID) (*domain.BookRecord, error)
	Delete(ctx context.Context, id domain.BookID) error
	Content(ctx context.Context, id domain.BookID) ([]byte, error)
	Cover(ctx context.Context, id domain.BookID) ([]byte, string, error)
	ClearProgress(ctx context.Context, id domain.BookID) error
}

// SessionPort is the subset of *session.Manager used by the handlers.
type SessionPort interface {
	Open(ctx context.Context, bookID domain.BookID) (session.Snapshot, error)
	Snapshot(id string) (session.Snapshot, error)
	Next(ctx context.Context, id string) (session.Snapshot, error)
	Prev(ctx context.Context, id string) (session.Snapshot, error)
	Display(ctx context.Context, id, target string) (session.Snapshot, error)
	UpdateSettings(ctx context.Context, id string, s domain.ReadingSettings) (session.Snapshot, error)
	ApplyPreset(ctx context.Context, id, presetID string) (session.Snapshot, error)
	Close(id string) error
}

// Definer looks up a single word.
type Definer interface {
	Define(ctx context.Context, word string) (string, error)
}

// Explainer explains a passage in context.
type Explainer interface {
	Explain(ctx context.Context, passage string) (string, error)
}

// Handler wires HTTP endpoints to the application. Zero-value is not
// valid; Library and Sessions are required.
type Handler struct {
	Library    LibraryPort
	Sessions   SessionPort
	Dictionary Definer      // optional; 404 when nil
	Contextual Explainer    // optional; 404 when nil
	Events     http.Handler // optional SSE stream
	Metrics    http.Handler // optional metrics snapshot
	// Readiness reports nil once storage is usable.
	Readiness func(context.Context) error
	MaxBody   int64
	Logger    *slog.Logger
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Router returns the routes with middleware applied.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(secureHeaders)

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Route("/books", func(r chi.Router) {
			r.Post("/", h.handleIngest)
			r.Get("/", h.handleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGetBook)
				r.Delete("/", h.handleDeleteBook)
				r.Get("/cover", h.handleCover)
				r.Get("/content", h.handleContent)
				r.Delete("/progress", h.handleClearProgress)
			})
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.handleOpenSession)
			r.Route("/{sid}", func(r chi.Router) {
				r.Get("/", h.handleGetSession)
				r.Delete("/", h.handleCloseSession)
				r.Post("/next", h.handleNext)
				r.Post("/prev", h.handlePrev)
				r.Post("/display", h.handleDisplay)
				r.Put("/settings", h.handleSettings)
				r.Post("/preset", h.handlePreset)
			})
		})
		r.Get("/presets", h.handlePresets)
		r.Get("/dictionary", h.handleDictionary)
		r.Post("/contextual", h.handleContextual)
		if h.Events != nil {
			r.Method(http.MethodGet, "/events", h.Events)
		}
		if h.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", h.Metrics)
		}
	})
	return r
}
