// Package epubtest builds small in-memory EPUB archives for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/url"
	"strings"
)

// Options describes the archive to build.
type Options struct {
	Title    string
	Creator  string
	Series   string
	Chapters int    // spine length, defaults to 3
	Cover    []byte // written as OEBPS/<CoverName> when non-nil
	// CoverName defaults to cover.png. The manifest href is percent-encoded.
	CoverName string
	// Salt is added to the package so otherwise equal options produce
	// different bytes.
	Salt string
}

// Build returns a valid EPUB archive.
func Build(o Options) []byte {
	if o.Chapters <= 0 {
		o.Chapters = 3
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, body string, method uint16) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			panic(err)
		}
	}

	write("mimetype", "application/epub+zip", zip.Store)
	write("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`, zip.Deflate)

	var manifest, spine, meta strings.Builder
	for i := 1; i <= o.Chapters; i++ {
		fmt.Fprintf(&manifest, `<item id="ch%d" href="text/ch%d.xhtml" media-type="application/xhtml+xml"/>`, i, i)
		fmt.Fprintf(&spine, `<itemref idref="ch%d"/>`, i)
		write(fmt.Sprintf("OEBPS/text/ch%d.xhtml", i),
			fmt.Sprintf(`<html xmlns="http://www.w3.org/1999/xhtml"><body><h1>Chapter %d</h1></body></html>`, i), zip.Deflate)
	}
	if o.Cover != nil {
		if o.CoverName == "" {
			o.CoverName = "cover.png"
		}
		fmt.Fprintf(&manifest, `<item id="cover-img" href="%s" media-type="image/png" properties="cover-image"/>`,
			url.PathEscape(o.CoverName))
		w, err := zw.Create("OEBPS/" + o.CoverName)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(o.Cover); err != nil {
			panic(err)
		}
	}
	if o.Title != "" {
		fmt.Fprintf(&meta, `<dc:title>%s</dc:title>`, o.Title)
	}
	if o.Creator != "" {
		fmt.Fprintf(&meta, `<dc:creator>%s</dc:creator>`, o.Creator)
	}
	if o.Series != "" {
		fmt.Fprintf(&meta, `<meta name="calibre:series" content="%s"/><meta name="calibre:series_index" content="1"/>`, o.Series)
	}
	if o.Salt != "" {
		fmt.Fprintf(&meta, `<dc:identifier>%s</dc:identifier>`, o.Salt)
	}

	write("OEBPS/content.opf", fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">%s<dc:language>en</dc:language>
    <meta property="dcterms:modified">2024-01-01T00:00:00Z</meta></metadata>
  <manifest>%s</manifest>
  <spine>%s</spine>
</package>`, meta.String(), manifest.String(), spine.String()), zip.Deflate)

	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
