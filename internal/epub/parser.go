package epub

import "github.com/haukened/folio/internal/domain"

// Parser adapts Open to the library's parser port.
type Parser struct{}

// Metadata returns the descriptive metadata of content.
func (Parser) Metadata(content []byte) (domain.BookMetadata, error) {
	b, err := Open(content)
	if err != nil {
		return domain.BookMetadata{}, err
	}
	return b.Metadata, nil
}

// Cover returns the cover image of content.
func (Parser) Cover(content []byte) ([]byte, string, error) {
	b, err := Open(content)
	if err != nil {
		return nil, "", err
	}
	return b.Cover()
}
