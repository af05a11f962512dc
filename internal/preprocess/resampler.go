package preprocess

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Filter names a resampling strategy.
type Filter string

const (
	FilterBilinear     Filter = "bilinear"
	FilterCatmullRom   Filter = "catmullrom"
	FilterNfntBilinear Filter = "nfnt-bilinear"
	FilterLanczos3     Filter = "lanczos3"
)

// Resampler scales an image to exactly width x height.
type Resampler interface {
	Resize(src image.Image, width, height int) image.Image
	Name() string
}

type drawResampler struct {
	name   string
	interp draw.Interpolator
}

func (r drawResampler) Resize(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	r.interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func (r drawResampler) Name() string { return r.name }

type nfntResampler struct {
	name   string
	interp resize.InterpolationFunction
}

func (r nfntResampler) Resize(src image.Image, width, height int) image.Image {
	return resize.Resize(uint(width), uint(height), src, r.interp)
}

func (r nfntResampler) Name() string { return r.name }

// NewResampler returns the resampler registered under filter.
func NewResampler(filter Filter) (Resampler, error) {
	switch filter {
	case FilterBilinear, "":
		return drawResampler{name: string(FilterBilinear), interp: draw.BiLinear}, nil
	case FilterCatmullRom:
		return drawResampler{name: string(FilterCatmullRom), interp: draw.CatmullRom}, nil
	case FilterNfntBilinear:
		return nfntResampler{name: string(FilterNfntBilinear), interp: resize.Bilinear}, nil
	case FilterLanczos3:
		return nfntResampler{name: string(FilterLanczos3), interp: resize.Lanczos3}, nil
	default:
		return nil, fmt.Errorf("unsupported resize filter: %q", filter)
	}
}
