// Package codec decodes stored raster images and re-encodes them as lossy WebP.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/timmy/webpmigrate/internal/domain"
)

// ContentType is the content type written for converted fields.
const ContentType = domain.TargetContentType

// Image is a decoded field held only for the duration of one conversion.
type Image struct {
	Pixels   image.Image
	Format   string
	HasAlpha bool
	Width    int
	Height   int
}

// Decode parses png, jpeg, gif, bmp, tiff or webp bytes.
// Failures wrap domain.ErrNotAnImage.
func Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", domain.ErrNotAnImage)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotAnImage, err)
	}
	b := img.Bounds()
	return &Image{
		Pixels:   img,
		Format:   format,
		HasAlpha: HasAlpha(img),
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

// HasAlpha reports whether img carries any transparency. Paletted images count
// only when a used palette entry is transparent.
func HasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	switch img.ColorModel() {
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model,
		color.AlphaModel, color.Alpha16Model:
		return true
	}
	return false
}

// Encode converts pixels to lossy WebP at quality (0-100). Quality only
// affects colour; libwebp stores the alpha plane losslessly, so the
// transparency mask of an image with alpha survives exactly. Without alpha the
// channel is dropped.
func Encode(pixels image.Image, hasAlpha bool, quality int) ([]byte, error) {
	if pixels == nil {
		return nil, errors.New("encode webp: nil image")
	}
	if quality < 0 || quality > 100 {
		return nil, fmt.Errorf("encode webp: quality %d out of range", quality)
	}
	b := pixels.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("encode webp: empty image %dx%d", b.Dx(), b.Dy())
	}

	nrgba := imaging.Clone(pixels)
	if !hasAlpha {
		for i := 3; i < len(nrgba.Pix); i += 4 {
			nrgba.Pix[i] = 0xff
		}
	}

	// chai2010/webp hands *image.RGBA pixels to libwebp untouched, and libwebp
	// expects straight alpha, which is exactly the NRGBA layout.
	straight := &image.RGBA{Pix: nrgba.Pix, Stride: nrgba.Stride, Rect: nrgba.Rect}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, straight, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// ReplaceExt swaps the extension of filename for .webp; empty names become image.webp.
func ReplaceExt(filename string) string {
	if filename == "" {
		return "image.webp"
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return base + ".webp"
}
