// Package covers derives listing helpers from book cover images: a sniffed
// media type and a BlurHash placeholder shown while the full cover loads.
package covers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/bbrks/go-blurhash"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// thumbSize bounds the longer edge of the image fed to the encoder.
const thumbSize = 64

// ErrNotImage is returned when the bytes are not a supported image.
var ErrNotImage = errors.New("covers: not an image")

// Processor implements app.CoverProcessor.
type Processor struct {
	// XComponents and YComponents default to 4x3.
	XComponents, YComponents int
}

// Describe sniffs the media type of img and computes its BlurHash.
func (p Processor) Describe(img []byte) (string, string, error) {
	mt := mimetype.Detect(img)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", "", fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return mt.String(), "", fmt.Errorf("decode image: %w", err)
	}
	x, y := p.XComponents, p.YComponents
	if x == 0 || y == 0 {
		x, y = 4, 3
	}
	hash, err := blurhash.Encode(x, y, thumbnail(decoded))
	if err != nil {
		return mt.String(), "", fmt.Errorf("encode blurhash: %w", err)
	}
	return mt.String(), hash, nil
}

// thumbnail scales img down so its longer edge is thumbSize, keeping the
// aspect ratio. Small images are returned unchanged.
func thumbnail(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= thumbSize && h <= thumbSize {
		return img
	}
	dw, dh := thumbSize, thumbSize
	if w > h {
		dh = max(1, h*thumbSize/w)
	} else {
		dw = max(1, w*thumbSize/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
