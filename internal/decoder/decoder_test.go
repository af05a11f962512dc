package decoder

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func solidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestStripDataURI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"aGVsbG8=", "aGVsbG8="},
		{"data:image/jpeg;base64,aGVsbG8=", "aGVsbG8="},
		{"meta,with,commas,aGVsbG8=", "with,commas,aGVsbG8="},
		{",aGVsbG8=", "aGVsbG8="},
		{"data:image/png;base64,", ""},
	}
	for _, tt := range tests {
		if got := StripDataURI(tt.in); got != tt.want {
			t.Errorf("StripDataURI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecode_DataURIEqualsBare(t *testing.T) {
	src := solidNRGBA(17, 9, color.NRGBA{R: 10, G: 120, B: 250, A: 255})
	payload := encodePNG(t, src)

	bare, err := Decode(payload)
	if err != nil {
		t.Fatalf("Failed to decode bare payload: %v", err)
	}
	prefixed, err := Decode("data:image/jpeg;base64," + payload)
	if err != nil {
		t.Fatalf("Failed to decode data-URI payload: %v", err)
	}

	if diff := cmp.Diff(bare.Pix, prefixed.Pix); diff != "" {
		t.Errorf("Data-URI decode differs from bare decode (-bare +prefixed):\n%s", diff)
	}
	if bare.Bounds() != image.Rect(0, 0, 17, 9) {
		t.Errorf("Unexpected bounds: %v", bare.Bounds())
	}
}

func TestDecode_JPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 500, 375))
	for y := 0; y < 375; y++ {
		for x := 0; x < 500; x++ {
			src.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode JPEG: %v", err)
	}

	img, err := Decode(base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		t.Fatalf("Failed to decode JPEG: %v", err)
	}
	if img.Bounds().Dx() != 500 || img.Bounds().Dy() != 375 {
		t.Errorf("Expected 500x375, got %v", img.Bounds())
	}
}

func TestDecode_UnpaddedAndWhitespace(t *testing.T) {
	payload := encodePNG(t, solidNRGBA(3, 3, color.NRGBA{R: 1, G: 2, B: 3, A: 255}))
	unpadded := base64.RawStdEncoding.EncodeToString(mustBase64(t, payload))

	for _, p := range []string{unpadded, "  " + payload + "\n"} {
		if _, err := Decode(p); err != nil {
			t.Errorf("Expected payload to decode, got: %v", err)
		}
	}
}

func mustBase64(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return raw
}

func TestDecode_StripsAlphaAndExpandsGray(t *testing.T) {
	translucent := solidNRGBA(2, 2, color.NRGBA{R: 200, G: 100, B: 50, A: 0})
	img, err := Decode(encodePNG(t, translucent))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if got := img.RGBAAt(1, 1); got != (color.RGBA{R: 200, G: 100, B: 50, A: 255}) {
		t.Errorf("Expected straight color with alpha stripped, got %+v", got)
	}

	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(0, 0, color.Gray{Y: 77})
	img, err = Decode(encodePNG(t, gray))
	if err != nil {
		t.Fatalf("Failed to decode gray: %v", err)
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 77, G: 77, B: 77, A: 255}) {
		t.Errorf("Expected gray expanded to RGB, got %+v", got)
	}
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"empty after prefix", "data:image/png;base64,"},
		{"garbage", "this is definitely not base64!!!"},
		{"valid base64, not an image", base64.StdEncoding.EncodeToString([]byte("hello world"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.payload)
			if err == nil {
				t.Fatal("Expected error, got none")
			}
			if img != nil {
				t.Error("Expected nil image on failure")
			}
			if !apperrors.IsType(err, apperrors.ErrorTypeDecode) {
				t.Errorf("Expected decode error, got: %v", err)
			}
		})
	}
}

// gifHeader is a GIF with only a logical screen descriptor: it declares
// w x h without carrying any pixel data.
func gifHeader(w, h uint16) string {
	hdr := []byte("GIF89a")
	hdr = append(hdr, byte(w), byte(w>>8), byte(h), byte(h>>8), 0, 0, 0)
	return base64.StdEncoding.EncodeToString(hdr)
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	img, err := Decode(gifHeader(60000, 60000))
	if img != nil {
		t.Error("Expected nil image for oversized header")
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeDecode) {
		t.Fatalf("Expected decode error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "60000x60000") {
		t.Errorf("Expected dimensions in error, got: %v", err)
	}
}

func TestToRGB_RebasesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 8, 7))
	src.Set(5, 5, color.RGBA{9, 8, 7, 255})
	dst := ToRGB(src)
	if dst.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Fatalf("Expected rebased bounds, got %v", dst.Bounds())
	}
	if got := dst.RGBAAt(0, 0); got != (color.RGBA{9, 8, 7, 255}) {
		t.Errorf("Expected first pixel to move to origin, got %+v", got)
	}
}
