// Package epub reads the parts of an EPUB container the library needs:
// descriptive metadata, the reading-order spine and the cover image.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/haukened/folio/internal/domain"
)

const containerPath = "META-INF/container.xml"

// maxEntryBytes bounds a single decompressed entry.
const maxEntryBytes = 64 << 20

var (
	// ErrNoRootfile is returned when container.xml names no package document.
	ErrNoRootfile = errors.New("epub: container has no rootfile")
	// ErrNoCover is returned when the package declares no cover image.
	ErrNoCover = errors.New("epub: no cover image")
	// ErrEntryNotFound is returned for a manifest href missing from the archive.
	ErrEntryNotFound = errors.New("epub: entry not found")
)

// SpineItem is one document in reading order.
type SpineItem struct {
	ID        string
	Href      string // archive path, already resolved against the package dir
	MediaType string
	Linear    bool
}

// Book is a parsed EPUB container.
type Book struct {
	zr       *zip.Reader
	files    map[string]*zip.File
	Metadata domain.BookMetadata
	Spine    []SpineItem

	coverHref      string
	coverMediaType string
}

type container struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata opfMetadata  `xml:"metadata"`
	Manifest []opfItem    `xml:"manifest>item"`
	Spine    []opfItemRef `xml:"spine>itemref"`
}

type opfMetadata struct {
	Titles      []string  `xml:"title"`
	Creators    []string  `xml:"creator"`
	Description string    `xml:"description"`
	Languages   []string  `xml:"language"`
	Publisher   string    `xml:"publisher"`
	Rights      string    `xml:"rights"`
	Metas       []opfMeta `xml:"meta"`
}

type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Property string `xml:"property,attr"`
	Refines  string `xml:"refines,attr"`
	ID       string `xml:"id,attr"`
	Value    string `xml:",chardata"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// Open parses the container and package document of content.
func Open(content []byte) (*Book, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidFile, err)
	}
	b := &Book{zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		b.files[f.Name] = f
	}

	var c container
	if err := b.decode(containerPath, &c); err != nil {
		return nil, err
	}
	var opfPath string
	for _, rf := range c.Rootfiles {
		if rf.FullPath != "" {
			opfPath = rf.FullPath
			break
		}
	}
	if opfPath == "" {
		return nil, ErrNoRootfile
	}
	var pkg opfPackage
	if err := b.decode(opfPath, &pkg); err != nil {
		return nil, err
	}
	b.build(path.Dir(opfPath), &pkg)
	return b, nil
}

func (b *Book) decode(name string, v any) error {
	data, err := b.ReadFile(name)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("epub: parse %s: %w", name, err)
	}
	return nil
}

// ReadFile returns the decompressed bytes of an archive entry.
func (b *Book) ReadFile(name string) ([]byte, error) {
	f, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntryBytes {
		return nil, fmt.Errorf("epub: entry %s too large", name)
	}
	return data, nil
}

func (b *Book) build(base string, pkg *opfPackage) {
	md := pkg.Metadata
	b.Metadata = domain.BookMetadata{
		Title:       first(md.Titles),
		Creator:     first(md.Creators),
		Description: clean(md.Description),
		Language:    first(md.Languages),
		Publisher:   clean(md.Publisher),
		Rights:      clean(md.Rights),
	}

	var coverID, collectionID string
	for _, m := range md.Metas {
		switch {
		case m.Name == "cover":
			coverID = strings.TrimSpace(m.Content)
		case m.Name == "calibre:series":
			b.Metadata.Series = clean(m.Content)
		case m.Name == "calibre:series_index":
			b.Metadata.SeriesIndex = clean(m.Content)
		case m.Property == "dcterms:modified":
			b.Metadata.ModifiedDate = clean(m.Value)
		case m.Property == "belongs-to-collection" && b.Metadata.Series == "":
			b.Metadata.Series = clean(m.Value)
			collectionID = m.ID
		}
	}
	if collectionID != "" {
		for _, m := range md.Metas {
			if m.Property == "group-position" && m.Refines == "#"+collectionID {
				b.Metadata.SeriesIndex = clean(m.Value)
			}
		}
	}

	items := make(map[string]opfItem, len(pkg.Manifest))
	for _, it := range pkg.Manifest {
		items[it.ID] = it
		if hasProperty(it.Properties, "cover-image") {
			b.coverHref, b.coverMediaType = resolve(base, it.Href), it.MediaType
		}
	}
	if b.coverHref == "" && coverID != "" {
		if it, ok := items[coverID]; ok {
			b.coverHref, b.coverMediaType = resolve(base, it.Href), it.MediaType
		}
	}

	for _, ref := range pkg.Spine {
		it, ok := items[ref.IDRef]
		if !ok {
			continue
		}
		b.Spine = append(b.Spine, SpineItem{
			ID:        it.ID,
			Href:      resolve(base, it.Href),
			MediaType: it.MediaType,
			Linear:    ref.Linear != "no",
		})
	}
}

// Cover returns the cover image bytes and declared media type.
func (b *Book) Cover() ([]byte, string, error) {
	if b.coverHref == "" {
		return nil, "", ErrNoCover
	}
	data, err := b.ReadFile(b.coverHref)
	if err != nil {
		return nil, "", err
	}
	return data, b.coverMediaType, nil
}

func resolve(base, href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	if base == "." {
		return path.Clean(href)
	}
	return path.Join(base, href)
}

func hasProperty(props, want string) bool {
	for _, p := range strings.Fields(props) {
		if p == want {
			return true
		}
	}
	return false
}

func first(vs []string) string {
	for _, v := range vs {
		if c := clean(v); c != "" {
			return c
		}
	}
	return ""
}

// clean trims and NFC-normalizes a metadata string, collapsing interior
// whitespace runs.
func clean(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
