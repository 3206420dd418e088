package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/epub"
	"github.com/haukened/folio/internal/epub/epubtest"
)

var epoch = time.UnixMilli(1_700_000_000_000).UTC()

func newLibrary(st *memStore) (*Library, *recordingNotifier, *mapCounter) {
	n := &recordingNotifier{}
	c := &mapCounter{}
	clk := fixedClock{now: epoch}
	return &Library{
		Store:    st,
		Parser:   epub.Parser{},
		Covers:   stubCovers{},
		Clock:    clk,
		Notifier: n,
		Metrics:  c,
		IDs:      IDGenerator{Clock: clk},
	}, n, c
}

func TestIngestStoresContentAndRecord(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	lib, n, c := newLibrary(st)
	data := epubtest.Build(epubtest.Options{Title: "Emma", Creator: "Jane Austen", Cover: []byte("png")})

	rec, err := lib.Ingest(ctx, IngestInput{Content: data, MediaType: domain.EPUBMediaType, Filename: "emma.epub"})
	require.NoError(t, err)

	assert.Equal(t, domain.BookID(epoch.UnixMilli()), rec.ID)
	assert.Equal(t, "Emma", rec.Title)
	assert.Equal(t, "Jane Austen", rec.Creator)
	assert.Equal(t, domain.Fingerprint(data), rec.ContentFingerprint)
	assert.Equal(t, int64(len(data)), rec.Size)
	assert.Equal(t, []byte("png"), rec.CoverImage)
	assert.NotEmpty(t, rec.CoverBlurHash)
	assert.Nil(t, rec.ReadingPosition)
	assert.False(t, rec.Finished)

	stored, err := st.GetContent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	got, err := st.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	assert.Equal(t, []string{ChangeAdded + ":" + rec.ID.String()}, n.events)
	assert.EqualValues(t, 1, c.get(MetricBooksIngested))
}

func TestIngestWithoutTitleListsUntitled(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := newLibrary(newMemStore())
	_, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{})})
	require.NoError(t, err)

	items, err := lib.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.UntitledTitle, items[0].Title)
}

func TestIngestDuplicateReturnsExistingID(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	lib, _, c := newLibrary(st)
	data := epubtest.Build(epubtest.Options{Title: "Once"})

	first, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: data})
	require.NoError(t, err)

	_, err = lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: data})
	require.ErrorIs(t, err, domain.ErrDuplicateContent)
	var dup *domain.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.ExistingID)

	keys, _ := st.ContentKeys(ctx)
	assert.Len(t, keys, 1)
	assert.EqualValues(t, 1, c.get(MetricBooksDuplicate))
}

func TestIngestDifferentBytesSameTitleAreDistinct(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := newLibrary(newMemStore())
	a, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "Same", Salt: "a"})})
	require.NoError(t, err)
	b, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "Same", Salt: "b"})})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Greater(t, b.ID, a.ID)
}

func TestIngestRejectsNonZip(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	lib, _, _ := newLibrary(st)
	_, err := lib.Ingest(ctx, IngestInput{Content: []byte("%PDF-1.7"), MediaType: domain.EPUBMediaType})
	assert.ErrorIs(t, err, domain.ErrInvalidFile)
	keys, _ := st.ContentKeys(ctx)
	assert.Empty(t, keys)
}

func TestIngestUnreadableMetadataFallsBackToFilename(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := newLibrary(newMemStore())
	rec, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: []byte("PK\x03\x04garbage"), Filename: "Moby Dick.epub"})
	require.NoError(t, err)
	assert.Equal(t, "Moby Dick", rec.Title)
	assert.Empty(t, rec.Creator)
}

func TestIngestRejectsUnsupportedDeclaredType(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	lib, _, _ := newLibrary(st)
	data := epubtest.Build(epubtest.Options{Title: "PDF?"})
	_, err := lib.Ingest(ctx, IngestInput{Content: data, MediaType: "application/pdf"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	keys, _ := st.ContentKeys(ctx)
	assert.Empty(t, keys)
}

func TestIngestRequiresDeclaredEPUBType(t *testing.T) {
	data := epubtest.Build(epubtest.Options{Title: "Typed"})
	tests := []struct {
		mediaType, filename string
		want                error
	}{
		{"", "", domain.ErrUnsupportedFormat},
		{"", "book.epub", domain.ErrUnsupportedFormat},
		{"application/octet-stream", "book.epub", domain.ErrUnsupportedFormat},
		{"text/plain", "", domain.ErrUnsupportedFormat},
		{"application/epub+zip; charset=binary", "x.bin", nil},
	}
	for _, tt := range tests {
		st := newMemStore()
		lib, _, _ := newLibrary(st)
		_, err := lib.Ingest(context.Background(), IngestInput{Content: data, MediaType: tt.mediaType, Filename: tt.filename})
		if tt.want == nil {
			assert.NoError(t, err, "%q %q", tt.mediaType, tt.filename)
			continue
		}
		assert.ErrorIs(t, err, tt.want, "%q %q", tt.mediaType, tt.filename)
		assert.Empty(t, st.content, "%q %q", tt.mediaType, tt.filename)
	}
}

func TestTitleFromFilename(t *testing.T) {
	assert.Equal(t, "Dune", titleFromFilename("Dune.epub"))
	assert.Equal(t, "Dune", titleFromFilename("/tmp/uploads/Dune.EPUB"))
	assert.Equal(t, "notes.txt", titleFromFilename("notes.txt"))
	assert.Equal(t, "", titleFromFilename(""))
}

func TestIngestTooLarge(t *testing.T) {
	lib, _, _ := newLibrary(newMemStore())
	lib.MaxBytes = 10
	_, err := lib.Ingest(context.Background(), IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{})})
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, domain.ErrInvalidFile)
}

func TestIngestWaitsForStore(t *testing.T) {
	st := newMemStore()
	st.waitErr = domain.ErrStoreUnavailable
	lib, _, _ := newLibrary(st)
	_, err := lib.Ingest(context.Background(), IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{})})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestIngestRollsBackContentWhenRecordWriteFails(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.putRecordErr = errBoom
	lib, n, c := newLibrary(st)

	_, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "Fail"})})
	require.ErrorIs(t, err, errBoom)

	keys, _ := st.ContentKeys(ctx)
	assert.Empty(t, keys, "content must be rolled back")
	assert.Empty(t, n.events)
	assert.EqualValues(t, 1, c.get(MetricIngestRollbacks))
}

func TestIngestProceedsWhenDuplicateScanFails(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.allRecordsErr = errBoom
	lib, _, _ := newLibrary(st)
	rec, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "Scan"})})
	require.NoError(t, err)
	assert.Equal(t, "Scan", rec.Title)
}

func TestIngestCoverFailureIsNotFatal(t *testing.T) {
	lib, _, _ := newLibrary(newMemStore())
	lib.Covers = stubCovers{err: errBoom}
	rec, err := lib.Ingest(context.Background(), IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Cover: []byte("x")})})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), rec.CoverImage)
	assert.Empty(t, rec.CoverBlurHash)
}

func TestIngestLogsMissingCover(t *testing.T) {
	var buf bytes.Buffer
	lib, _, _ := newLibrary(newMemStore())
	lib.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rec, err := lib.Ingest(context.Background(), IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "Bare"})})
	require.NoError(t, err)
	assert.Empty(t, rec.CoverImage)
	assert.Contains(t, buf.String(), "cover unavailable")
	assert.Contains(t, buf.String(), "no cover image")
}

func TestDeleteRemovesBothHalves(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	lib, n, _ := newLibrary(st)
	rec, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "Removed"})})
	require.NoError(t, err)

	require.NoError(t, lib.Delete(ctx, rec.ID))
	has, _ := lib.HasBook(ctx, rec.ID)
	assert.False(t, has)
	_, err = lib.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
	assert.Contains(t, n.events, ChangeDeleted+":"+rec.ID.String())

	// Deleting again is not an error.
	require.NoError(t, lib.Delete(ctx, rec.ID))
	assert.ErrorIs(t, lib.Delete(ctx, 0), domain.ErrInvalidID)
}

func TestContentAndCover(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := newLibrary(newMemStore())
	data := epubtest.Build(epubtest.Options{Title: "C", Cover: []byte("img")})
	rec, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: data})
	require.NoError(t, err)

	got, err := lib.Content(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	img, mt, err := lib.Cover(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), img)
	assert.Equal(t, "image/png", mt)

	_, err = lib.Content(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
}

func TestCoverMissing(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := newLibrary(newMemStore())
	rec, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "NoCover"})})
	require.NoError(t, err)
	_, _, err = lib.Cover(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClearProgress(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	lib, _, _ := newLibrary(st)
	rec, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "P"})})
	require.NoError(t, err)
	_, err = st.UpdateRecord(ctx, rec.ID, func(r *domain.BookRecord) error {
		r.ApplyRelocation("epubcfi(/6/4!/4/2)", 1, true)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, lib.ClearProgress(ctx, rec.ID))
	got, err := lib.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReadingPosition)
	require.NotNil(t, got.ReadingProgressPercent)
	assert.Equal(t, 100, *got.ReadingProgressPercent)
	assert.True(t, got.Finished)
	assert.Equal(t, "P", got.Title)

	assert.ErrorIs(t, lib.ClearProgress(ctx, 12345), domain.ErrBookNotFound)
}

func TestListNewestFirstWithOrphans(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	lib, _, _ := newLibrary(st)
	a, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "A", Salt: "1"})})
	require.NoError(t, err)
	b, err := lib.Ingest(ctx, IngestInput{MediaType: domain.EPUBMediaType, Content: epubtest.Build(epubtest.Options{Title: "B", Salt: "2"})})
	require.NoError(t, err)
	orphan := b.ID + 100
	require.NoError(t, st.PutContent(ctx, orphan, []byte("PK\x03\x04")))

	items, err := lib.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, orphan, items[0].ID)
	assert.True(t, items[0].Orphaned)
	assert.Equal(t, domain.UntitledTitle, items[0].Title)
	assert.Equal(t, b.ID, items[1].ID)
	assert.Equal(t, a.ID, items[2].ID)
	assert.Equal(t, "A", items[2].Title)
}

func TestListPropagatesStoreError(t *testing.T) {
	st := newMemStore()
	st.allRecordsErr = errBoom
	lib, _, _ := newLibrary(st)
	_, err := lib.List(context.Background())
	assert.ErrorIs(t, err, errBoom)
}
