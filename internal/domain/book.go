package domain

import "time"

// UntitledTitle is shown for records whose title is empty.
const UntitledTitle = "Untitled"

// BookRecord is the metadata store value for a single ingested book. The
// descriptive fields are written once at ingest; only the reading-state
// fields (position, percent, finished, settings) change afterwards.
type BookRecord struct {
	ID      BookID `json:"id"`
	Title   string `json:"title"`
	Creator string `json:"creator"`

	Series       string `json:"series,omitempty"`
	SeriesIndex  string `json:"series_index,omitempty"`
	Description  string `json:"description,omitempty"`
	Language     string `json:"language,omitempty"`
	Publisher    string `json:"publisher,omitempty"`
	Rights       string `json:"rights,omitempty"`
	ModifiedDate string `json:"modified_date,omitempty"`

	CoverImage     []byte `json:"cover_image,omitempty"`
	CoverMediaType string `json:"cover_media_type,omitempty"`
	CoverBlurHash  string `json:"cover_blurhash,omitempty"`

	ContentFingerprint string    `json:"content_fingerprint"`
	Size               int64     `json:"size"`
	AddedAt            time.Time `json:"added_at"`

	ReadingPosition        *string          `json:"reading_position,omitempty"`
	ReadingProgressPercent *int             `json:"reading_progress_percent,omitempty"`
	Finished               bool             `json:"finished"`
	ReadingSettings        *ReadingSettings `json:"reading_settings,omitempty"`
}

// DisplayTitle returns the title, or UntitledTitle when it is empty.
func (r *BookRecord) DisplayTitle() string {
	if r == nil || r.Title == "" {
		return UntitledTitle
	}
	return r.Title
}

// HasCover reports whether a cover image was stored at ingest.
func (r *BookRecord) HasCover() bool { return r != nil && len(r.CoverImage) > 0 }

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *BookRecord) Clone() *BookRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.CoverImage != nil {
		cp.CoverImage = append([]byte(nil), r.CoverImage...)
	}
	if r.ReadingPosition != nil {
		pos := *r.ReadingPosition
		cp.ReadingPosition = &pos
	}
	if r.ReadingProgressPercent != nil {
		pct := *r.ReadingProgressPercent
		cp.ReadingProgressPercent = &pct
	}
	if r.ReadingSettings != nil {
		s := *r.ReadingSettings
		cp.ReadingSettings = &s
	}
	return &cp
}

// BookMetadata is the descriptive metadata extracted from an EPUB package at
// ingest. Absent fields are empty strings.
type BookMetadata struct {
	Title        string
	Creator      string
	Series       string
	SeriesIndex  string
	Description  string
	Language     string
	Publisher    string
	Rights       string
	ModifiedDate string
}

// NewBookRecord builds the initial record for a freshly ingested book.
func NewBookRecord(id BookID, md BookMetadata, fingerprint string, size int64, addedAt time.Time) *BookRecord {
	return &BookRecord{
		ID:                 id,
		Title:              md.Title,
		Creator:            md.Creator,
		Series:             md.Series,
		SeriesIndex:        md.SeriesIndex,
		Description:        md.Description,
		Language:           md.Language,
		Publisher:          md.Publisher,
		Rights:             md.Rights,
		ModifiedDate:       md.ModifiedDate,
		ContentFingerprint: fingerprint,
		Size:               size,
		AddedAt:            addedAt.UTC(),
	}
}
