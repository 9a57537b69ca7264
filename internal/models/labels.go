package models

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// maxEncodedLabel is the largest value that survives the 24-bit RGB packing
// used when resampling planes through imaging.
const maxEncodedLabel = 1<<24 - 1

// Labels is a labeled 3D mask: 0 is background, each positive value is one
// object instance. Layout matches Gray.
type Labels struct {
	Data []int32

	Width, Height, Depth int
}

// NewLabels allocates an all-background label volume
func NewLabels(width, height, depth int) *Labels {
	return &Labels{
		Data:   make([]int32, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Index returns the position of (x, y, z) in Data
func (l *Labels) Index(x, y, z int) int {
	return z*l.Width*l.Height + y*l.Width + x
}

// At returns the label at (x, y, z)
func (l *Labels) At(x, y, z int) int32 {
	return l.Data[l.Index(x, y, z)]
}

// Set writes a label at (x, y, z)
func (l *Labels) Set(x, y, z int, v int32) {
	l.Data[l.Index(x, y, z)] = v
}

// ResizeXY resamples the mask in-plane with nearest-neighbour interpolation so
// no new label values are invented.
func (l *Labels) ResizeXY(width, height int) (*Labels, error) {
	if width == l.Width && height == l.Height {
		out := NewLabels(width, height, l.Depth)
		copy(out.Data, l.Data)
		return out, nil
	}
	src := make([]uint32, len(l.Data))
	for i, v := range l.Data {
		if v < 0 || v > maxEncodedLabel {
			return nil, fmt.Errorf("label %d out of resizable range", v)
		}
		src[i] = uint32(v)
	}
	dst, err := resizeNearest(src, l.Width, l.Height, l.Depth, width, height)
	if err != nil {
		return nil, err
	}
	out := NewLabels(width, height, l.Depth)
	for i, v := range dst {
		out.Data[i] = int32(v)
	}
	return out, nil
}

// resizeNearest resamples every plane of a packed volume. Values are packed
// into the RGB bytes of an NRGBA plane; the nearest-neighbour path of
// imaging.Resize copies pixels verbatim so the packing round-trips exactly.
func resizeNearest(src []uint32, w, h, d, nw, nh int) ([]uint32, error) {
	if nw <= 0 || nh <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", nw, nh)
	}
	dst := make([]uint32, nw*nh*d)
	plane := image.NewNRGBA(image.Rect(0, 0, w, h))
	for z := 0; z < d; z++ {
		for i := 0; i < w*h; i++ {
			v := src[z*w*h+i]
			plane.Pix[i*4] = uint8(v >> 16)
			plane.Pix[i*4+1] = uint8(v >> 8)
			plane.Pix[i*4+2] = uint8(v)
			plane.Pix[i*4+3] = 0xff
		}
		resized := imaging.Resize(plane, nw, nh, imaging.NearestNeighbor)
		for y := 0; y < nh; y++ {
			row := resized.Pix[y*resized.Stride:]
			for x := 0; x < nw; x++ {
				p := row[x*4:]
				dst[z*nw*nh+y*nw+x] = uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
			}
		}
	}
	return dst, nil
}
