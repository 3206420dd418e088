package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var nonWordChars = regexp.MustCompile(`[^a-zA-Z'-]`)

// NormalizeWord keeps the first whitespace-separated word of s, drops every
// character other than ASCII letters, apostrophes and hyphens, and
// lowercases the result.
func NormalizeWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(nonWordChars.ReplaceAllString(fields[0], ""))
}

// Dictionary looks words up in a Merriam-Webster collegiate style API.
type Dictionary struct {
	base
}

// NewDictionary returns a Dictionary. BaseURL is the entry endpoint; the
// word is appended as a path segment.
func NewDictionary(o Options) *Dictionary {
	return &Dictionary{base: newBase(o, "dictionary")}
}

type dictEntry struct {
	HWI struct {
		HW string `json:"hw"`
	} `json:"hwi"`
	FL       string   `json:"fl"`
	ShortDef []string `json:"shortdef"`
}

// Define returns display text for word: the headword with its part of
// speech and numbered short definitions. When the response has no usable
// entry the raw JSON is returned indented.
func (d *Dictionary) Define(ctx context.Context, word string) (string, error) {
	w := NormalizeWord(word)
	if w == "" {
		return "", ErrEmptyInput
	}
	if d.key == "" {
		return "", ErrMissingKey
	}
	u := strings.TrimRight(d.url, "/") + "/" + url.PathEscape(w) + "?key=" + url.QueryEscape(d.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	body, err := d.do(ctx, req)
	if err != nil {
		return "", err
	}
	return formatDefinition(w, body)
}

func formatDefinition(word string, body []byte) (string, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err == nil && len(entries) > 0 {
		var e dictEntry
		if json.Unmarshal(entries[0], &e) == nil && len(e.ShortDef) > 0 {
			head := strings.ReplaceAll(e.HWI.HW, "*", "")
			if head == "" {
				head = word
			}
			var sb strings.Builder
			sb.WriteString(head)
			if e.FL != "" {
				fmt.Fprintf(&sb, " (%s)", e.FL)
			}
			sb.WriteString("\n\n")
			for i, def := range e.ShortDef {
				if i > 0 {
					sb.WriteByte('\n')
				}
				fmt.Fprintf(&sb, "%d. %s", i+1, def)
			}
			return sb.String(), nil
		}
	}
	return rawJSON(body), nil
}

func rawJSON(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(out)
}
