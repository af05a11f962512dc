// Package decoder turns base64 image payloads into RGB rasters.
package decoder

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

// MaxPixels bounds width*height of the encoded image. Headers are checked
// before any pixel data is decoded.
const MaxPixels = 89_478_485

// encodings are tried in order; padded standard base64 is what clients send.
var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// StripDataURI drops everything up to and including the first comma.
// Metadata before the comma is discarded even when it holds more commas.
func StripDataURI(payload string) string {
	if _, after, found := strings.Cut(payload, ","); found {
		return after
	}
	return payload
}

// DecodeBase64 decodes the payload after stripping any data-URI prefix.
func DecodeBase64(payload string) ([]byte, error) {
	encoded := strings.TrimSpace(StripDataURI(payload))
	if encoded == "" {
		return nil, apperrors.NewDecodeError("image payload is empty", nil)
	}

	var firstErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(encoded)
		if err == nil {
			return raw, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, apperrors.NewDecodeError("payload is not valid base64", firstErr)
}

// Decode parses a base64 (optionally data-URI prefixed) image into RGB.
func Decode(payload string) (*image.RGBA, error) {
	raw, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.NewDecodeError("payload is not a supported raster image", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, apperrors.NewDecodeError(
			fmt.Sprintf("image is %dx%d, more than %d pixels", cfg.Width, cfg.Height, MaxPixels), nil)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.NewDecodeError("payload is not a supported raster image", err)
	}
	return ToRGB(img), nil
}

type opaquer interface {
	Opaque() bool
}

// ToRGB returns an opaque *image.RGBA copy of img with its origin at (0,0).
// Alpha is stripped: straight (non-premultiplied) color values are kept as-is.
func ToRGB(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	if o, ok := img.(opaquer); ok && o.Opaque() {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
		return dst
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}
