package httpx

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/folio/internal/app"
	"github.com/haukened/folio/internal/domain"
)

// FilenameHeader optionally names the uploaded file.
const FilenameHeader = "X-Filename"

// bookView is a BookRecord without the cover bytes.
type bookView struct {
	ID              domain.BookID           `json:"id"`
	Title           string                  `json:"title"`
	Creator         string                  `json:"creator,omitempty"`
	Series          string                  `json:"series,omitempty"`
	SeriesIndex     string                  `json:"series_index,omitempty"`
	Description     string                  `json:"description,omitempty"`
	Language        string                  `json:"language,omitempty"`
	Publisher       string                  `json:"publisher,omitempty"`
	HasCover        bool                    `json:"has_cover"`
	CoverBlurHash   string                  `json:"cover_blurhash,omitempty"`
	Size            int64                   `json:"size"`
	AddedAt         time.Time               `json:"added_at"`
	Position        *string                 `json:"reading_position,omitempty"`
	ProgressPercent *int                    `json:"reading_progress_percent,omitempty"`
	Finished        bool                    `json:"finished"`
	Settings        *domain.ReadingSettings `json:"reading_settings,omitempty"`
}

func newBookView(r *domain.BookRecord) bookView {
	return bookView{
		ID:              r.ID,
		Title:           r.DisplayTitle(),
		Creator:         r.Creator,
		Series:          r.Series,
		SeriesIndex:     r.SeriesIndex,
		Description:     r.Description,
		Language:        r.Language,
		Publisher:       r.Publisher,
		HasCover:        r.HasCover(),
		CoverBlurHash:   r.CoverBlurHash,
		Size:            r.Size,
		AddedAt:         r.AddedAt,
		Position:        r.ReadingPosition,
		ProgressPercent: r.ReadingProgressPercent,
		Finished:        r.Finished,
		Settings:        r.ReadingSettings,
	}
}

func bookID(r *http.Request) (domain.BookID, error) {
	return domain.ParseID(chi.URLParam(r, "id"))
}

// handleIngest implements POST /api/books. The body is the file itself.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxBody
	if limit <= 0 {
		limit = app.DefaultMaxUploadBytes
	}
	if r.ContentLength > limit {
		h.mapServiceError(r.Context(), w, app.ErrTooLarge)
		return
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()
	content, err := io.ReadAll(body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.mapServiceError(r.Context(), w, app.ErrTooLarge)
			return
		}
		h.writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	if len(content) == 0 {
		h.mapServiceError(r.Context(), w, domain.ErrInvalidFile)
		return
	}
	rec, err := h.Library.Ingest(r.Context(), app.IngestInput{
		Content:   content,
		MediaType: r.Header.Get("Content-Type"),
		Filename:  r.Header.Get(FilenameHeader),
	})
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/books/"+rec.ID.String())
	writeJSON(w, http.StatusCreated, newBookView(rec))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.Library.List(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	if items == nil {
		items = []app.ListItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := bookID(r)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	rec, err := h.Library.Get(r.Context(), id)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookView(rec))
}

// handleDeleteBook is idempotent: deleting a missing book is 204.
func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := bookID(r)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	if err := h.Library.Delete(r.Context(), id); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCover(w http.ResponseWriter, r *http.Request) {
	id, err := bookID(r)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	img, mediaType, err := h.Library.Cover(r.Context(), id)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	if mediaType == "" {
		mediaType = http.DetectContentType(img)
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = w.Write(img)
}

func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
	id, err := bookID(r)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	content, err := h.Library.Content(r.Context(), id)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", domain.EPUBMediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+id.String()+`.epub"`)
	_, _ = w.Write(content)
}

func (h *Handler) handleClearProgress(w http.ResponseWriter, r *http.Request) {
	id, err := bookID(r)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	if err := h.Library.ClearProgress(r.Context(), id); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
