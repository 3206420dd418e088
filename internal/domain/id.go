// Package domain id.go contains the book identifier type and its parsing rules.
package domain

import (
	"strconv"
	"strings"
)

// BookID is the shared key of a book's content blob and its metadata record.
// It is derived from the ingest timestamp in milliseconds, so it is positive
// and roughly ordered by ingest time.
type BookID int64

// ParseID validates s and returns it as a BookID. It accepts only a plain
// base-10 positive integer without sign or surrounding whitespace.
// Returns ErrInvalidID on failure.
func ParseID(s string) (BookID, error) {
	if s == "" || strings.ContainsAny(s, "+- \t") {
		return 0, ErrInvalidID
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidID
	}
	return BookID(n), nil
}

// String returns the decimal form of the BookID.
func (id BookID) String() string { return strconv.FormatInt(int64(id), 10) }

// Valid reports whether the ID satisfies the same rules as ParseID.
func (id BookID) Valid() bool { return id > 0 }
