package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/folio/internal/domain"
)

// DefaultMaxUploadBytes caps ingest size when Library.MaxBytes is unset.
const DefaultMaxUploadBytes = 50 << 20

// Metric names incremented by Library.
const (
	MetricBooksIngested   = "books_ingested_total"
	MetricBooksDuplicate  = "books_duplicate_total"
	MetricBooksDeleted    = "books_deleted_total"
	MetricIngestRollbacks = "ingest_rollbacks_total"
)

// ErrTooLarge is returned when an upload exceeds the size limit. It matches
// domain.ErrInvalidFile.
var ErrTooLarge = fmt.Errorf("%w: exceeds maximum upload size", domain.ErrInvalidFile)

// IngestInput carries one uploaded file.
type IngestInput struct {
	Content   []byte
	MediaType string // declared by the client, advisory
	Filename  string
}

// ListItem is the library listing projection of a BookRecord.
type ListItem struct {
	ID              domain.BookID `json:"id"`
	Title           string        `json:"title"`
	Creator         string        `json:"creator,omitempty"`
	Series          string        `json:"series,omitempty"`
	SeriesIndex     string        `json:"series_index,omitempty"`
	HasCover        bool          `json:"has_cover"`
	CoverBlurHash   string        `json:"cover_blurhash,omitempty"`
	ProgressPercent *int          `json:"progress_percent,omitempty"`
	Finished        bool          `json:"finished"`
	AddedAt         time.Time     `json:"added_at"`
	// Orphaned marks a content blob without a metadata record.
	Orphaned bool `json:"orphaned,omitempty"`
}

// Library implements the ingest, listing and deletion use-cases.
type Library struct {
	Store    BookStore
	Parser   Parser
	Covers   CoverProcessor // optional
	Clock    Clock
	Notifier Notifier // optional
	Metrics  Counter  // optional
	Logger   *slog.Logger
	MaxBytes int64

	IDs IDGenerator
}

func (l *Library) log() *slog.Logger {
	if l.Logger == nil {
		return slog.Default().With("domain", "library")
	}
	return l.Logger.With("domain", "library")
}

func (l *Library) notifier() Notifier {
	if l.Notifier == nil {
		return noopNotifier{}
	}
	return l.Notifier
}

func (l *Library) counter() Counter {
	if l.Metrics == nil {
		return noopCounter{}
	}
	return l.Metrics
}

// Ingest validates, deduplicates and stores one EPUB. The content blob is
// written first and removed again if the metadata write fails.
func (l *Library) Ingest(ctx context.Context, in IngestInput) (*domain.BookRecord, error) {
	log := l.log().With("action", "ingest")
	if l.Store == nil || l.Parser == nil || l.Clock == nil {
		return nil, errors.New("library not properly initialized")
	}
	maxBytes := l.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if int64(len(in.Content)) > maxBytes {
		return nil, ErrTooLarge
	}
	if !domain.IsEPUBMediaType(in.MediaType) {
		return nil, domain.ErrUnsupportedFormat
	}
	if !domain.HasZipSignature(in.Content) {
		return nil, domain.ErrInvalidFile
	}
	if err := l.Store.WaitReady(ctx); err != nil {
		return nil, err
	}

	fp := domain.Fingerprint(in.Content)
	if err := (DuplicateDetector{Store: l.Store}).Check(ctx, fp); err != nil {
		var dup *domain.DuplicateError
		if errors.As(err, &dup) {
			l.counter().Inc(MetricBooksDuplicate, 1)
			log.Info("duplicate upload", "existing_id", dup.ExistingID)
			return nil, err
		}
		// A failed scan does not block the upload.
		log.Warn("duplicate scan failed, continuing", "error", err)
	}

	md, err := l.Parser.Metadata(in.Content)
	if err != nil {
		log.Warn("metadata unreadable, storing without it", "filename", in.Filename, "error", err)
		md = domain.BookMetadata{Title: titleFromFilename(in.Filename)}
	}

	id, err := l.IDs.Next(ctx, l.idTaken)
	if err != nil {
		return nil, err
	}
	rec := domain.NewBookRecord(id, md, fp, int64(len(in.Content)), l.Clock.Now())
	l.attachCover(in.Content, rec, log)

	if err := l.Store.PutContent(ctx, id, in.Content); err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}
	if err := l.Store.PutRecord(ctx, rec); err != nil {
		l.counter().Inc(MetricIngestRollbacks, 1)
		if rbErr := l.Store.DeleteContent(context.WithoutCancel(ctx), id); rbErr != nil {
			log.Error("rollback of content failed", "book_id", id, "error", rbErr)
		}
		return nil, fmt.Errorf("store metadata: %w", err)
	}

	l.counter().Inc(MetricBooksIngested, 1)
	l.notifier().LibraryChanged(ChangeAdded, id)
	log.Info("book ingested", "book_id", id, "title", rec.DisplayTitle(), "size", rec.Size)
	return rec, nil
}

func titleFromFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	if ext := path.Ext(base); strings.EqualFold(ext, ".epub") {
		base = base[:len(base)-len(ext)]
	}
	return strings.TrimSpace(base)
}

func (l *Library) idTaken(ctx context.Context, id domain.BookID) (bool, error) {
	has, err := l.Store.HasBook(ctx, id)
	if err != nil || has {
		return has, err
	}
	_, err = l.Store.GetRecord(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// attachCover stores the cover on rec when one can be extracted. A missing
// or unreadable cover never fails the ingest.
func (l *Library) attachCover(content []byte, rec *domain.BookRecord, log *slog.Logger) {
	img, declared, err := l.Parser.Cover(content)
	if err != nil {
		log.Debug("cover unavailable", "book_id", rec.ID, "error", err)
		return
	}
	if len(img) == 0 {
		return
	}
	rec.CoverImage = img
	rec.CoverMediaType = declared
	if l.Covers == nil {
		return
	}
	mt, hash, err := l.Covers.Describe(img)
	if err != nil {
		log.Debug("cover processing failed", "book_id", rec.ID, "error", err)
	}
	if mt != "" {
		rec.CoverMediaType = mt
	}
	rec.CoverBlurHash = hash
}

// Delete removes a book's content and metadata.
func (l *Library) Delete(ctx context.Context, id domain.BookID) error {
	if !id.Valid() {
		return domain.ErrInvalidID
	}
	if err := l.Store.DeleteBook(ctx, id); err != nil {
		return err
	}
	l.counter().Inc(MetricBooksDeleted, 1)
	l.notifier().LibraryChanged(ChangeDeleted, id)
	l.log().Info("book deleted", "action", "delete", "book_id", id)
	return nil
}

// HasBook reports whether content exists for id.
func (l *Library) HasBook(ctx context.Context, id domain.BookID) (bool, error) {
	return l.Store.HasBook(ctx, id)
}

// Get returns the record for id, or domain.ErrBookNotFound.
func (l *Library) Get(ctx context.Context, id domain.BookID) (*domain.BookRecord, error) {
	rec, err := l.Store.GetRecord(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrBookNotFound
	}
	return rec, err
}

// Content returns the EPUB bytes for id, or domain.ErrBookNotFound.
func (l *Library) Content(ctx context.Context, id domain.BookID) ([]byte, error) {
	b, err := l.Store.GetContent(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrBookNotFound
	}
	return b, err
}

// Cover returns the stored cover image and its media type.
func (l *Library) Cover(ctx context.Context, id domain.BookID) ([]byte, string, error) {
	rec, err := l.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !rec.HasCover() {
		return nil, "", domain.ErrNotFound
	}
	return rec.CoverImage, rec.CoverMediaType, nil
}

// ClearProgress forgets the saved reading position of id so the next
// session opens at the start. Percent and finished are kept.
func (l *Library) ClearProgress(ctx context.Context, id domain.BookID) error {
	if _, err := l.Get(ctx, id); err != nil {
		return err
	}
	_, err := l.Store.UpdateRecord(ctx, id, func(r *domain.BookRecord) error {
		r.ClearPosition()
		return nil
	})
	return err
}

// List returns every book in the library, newest first. Content blobs
// without a record are listed as orphaned entries titled "Untitled".
func (l *Library) List(ctx context.Context) ([]ListItem, error) {
	if err := l.Store.WaitReady(ctx); err != nil {
		return nil, err
	}
	var (
		keys []domain.BookID
		recs []*domain.BookRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keys, err = l.Store.ContentKeys(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recs, err = l.Store.AllRecords(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[domain.BookID]*domain.BookRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	items := make([]ListItem, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		id := keys[i]
		r, ok := byID[id]
		if !ok {
			items = append(items, ListItem{ID: id, Title: domain.UntitledTitle, Orphaned: true,
				AddedAt: time.UnixMilli(int64(id)).UTC()})
			continue
		}
		items = append(items, ListItem{
			ID:              id,
			Title:           r.DisplayTitle(),
			Creator:         r.Creator,
			Series:          r.Series,
			SeriesIndex:     r.SeriesIndex,
			HasCover:        r.HasCover(),
			CoverBlurHash:   r.CoverBlurHash,
			ProgressPercent: r.ReadingProgressPercent,
			Finished:        r.Finished,
			AddedAt:         r.AddedAt,
		})
	}
	return items, nil
}
