// Package preprocess converts decoded images into the normalized input
// tensor expected by ImageNet-trained classifiers.
package preprocess

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

// InputSize is the edge length of the square network input.
const InputSize = 224

// MaxResizedEdge caps the long edge after the short-edge resize, which bounds
// the aspect ratio of accepted images to about 36:1.
const MaxResizedEdge = 8192

// InputShape is (batch, channels, height, width).
var InputShape = [4]int{1, 3, InputSize, InputSize}

// ImageNet channel statistics, RGB order.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Tensor is a dense float32 array in NCHW order. It must not be modified
// once returned by Preprocess.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// Len is the number of elements implied by Shape.
func (t *Tensor) Len() int {
	return t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3]
}

// At returns the element at (n, c, y, x).
func (t *Tensor) At(n, c, y, x int) float32 {
	h, w := t.Shape[2], t.Shape[3]
	return t.Data[((n*t.Shape[1]+c)*h+y)*w+x]
}

// Preprocessor resizes, center-crops and normalizes images.
type Preprocessor struct {
	size      int
	resampler Resampler
}

// NewPreprocessor creates a preprocessor using the given resampling filter.
func NewPreprocessor(filter Filter) (*Preprocessor, error) {
	r, err := NewResampler(filter)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{size: InputSize, resampler: r}, nil
}

// Filter reports the resampler in use.
func (p *Preprocessor) Filter() string {
	return p.resampler.Name()
}

// ResizedSize scales (w, h) so the shorter edge equals size. The longer edge
// is truncated, not rounded.
func ResizedSize(w, h, size int) (int, int) {
	if w <= h {
		return size, int(float64(size) * float64(h) / float64(w))
	}
	return int(float64(size) * float64(w) / float64(h)), size
}

// cropOffset centers a crop of length size inside length n. Ties round to even.
func cropOffset(n, size int) int {
	return int(math.RoundToEven(float64(n-size) / 2))
}

// Preprocess produces a (1,3,224,224) tensor from img.
// Images of any non-zero size are accepted; a 1x1 image yields a uniform tensor.
func (p *Preprocessor) Preprocess(img image.Image) (*Tensor, error) {
	if img == nil {
		return nil, apperrors.NewPreprocessError("image is nil", nil)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, apperrors.NewPreprocessError(fmt.Sprintf("invalid image dimensions %dx%d", w, h), nil)
	}

	rw, rh := ResizedSize(w, h, p.size)
	if max(rw, rh) > MaxResizedEdge {
		return nil, apperrors.NewPreprocessError(
			fmt.Sprintf("aspect ratio of %dx%d image is too extreme to resize", w, h), nil)
	}
	resized := asRGBA(p.resampler.Resize(img, rw, rh))

	top := cropOffset(rh, p.size)
	left := cropOffset(rw, p.size)

	t := &Tensor{Shape: [4]int{1, 3, p.size, p.size}}
	t.Data = make([]float32, t.Len())

	plane := p.size * p.size
	rb := resized.Bounds()
	for y := 0; y < p.size; y++ {
		row := resized.PixOffset(rb.Min.X+left, rb.Min.Y+top+y)
		for x := 0; x < p.size; x++ {
			px := resized.Pix[row+4*x : row+4*x+3]
			i := y*p.size + x
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				t.Data[c*plane+i] = (v - Mean[c]) / Std[c]
			}
		}
	}
	return t, nil
}

// ValueRange returns the smallest and largest normalized value channel c can take.
func ValueRange(c int) (lo, hi float32) {
	return (0 - Mean[c]) / Std[c], (1 - Mean[c]) / Std[c]
}

func asRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
