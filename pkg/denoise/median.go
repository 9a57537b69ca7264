// Package denoise provides the median filters applied to a cell crop before
// foci detection.
package denoise

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/effect"

	"astrofoci/internal/models"
)

// Filter returns a filtered copy of a volume
type Filter interface {
	Apply(g *models.Gray) *models.Gray
}

// New builds a filter by mode name: "box3d" (default) or "planar"
func New(mode string, radiusXY, radiusZ float64) (Filter, error) {
	switch mode {
	case "", "box3d":
		return &Box3D{RadiusXY: int(math.Round(radiusXY)), RadiusZ: int(math.Round(radiusZ))}, nil
	case "planar":
		return &Planar{Radius: radiusXY}, nil
	default:
		return nil, fmt.Errorf("unknown median mode %q", mode)
	}
}

// Box3D is a median over a (2rx+1)×(2rx+1)×(2rz+1) box. The border is padded
// by replicating edge voxels.
type Box3D struct {
	RadiusXY int
	RadiusZ  int
}

// Apply implements Filter
func (f *Box3D) Apply(g *models.Gray) *models.Gray {
	out := models.NewGray(g.Width, g.Height, g.Depth, g.Cal)
	window := make([]float64, 0, (2*f.RadiusXY+1)*(2*f.RadiusXY+1)*(2*f.RadiusZ+1))
	for z := 0; z < g.Depth; z++ {
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				window = window[:0]
				for dz := -f.RadiusZ; dz <= f.RadiusZ; dz++ {
					nz := clamp(z+dz, g.Depth)
					for dy := -f.RadiusXY; dy <= f.RadiusXY; dy++ {
						ny := clamp(y+dy, g.Height)
						for dx := -f.RadiusXY; dx <= f.RadiusXY; dx++ {
							nx := clamp(x+dx, g.Width)
							window = append(window, g.At(nx, ny, nz))
						}
					}
				}
				out.Set(x, y, z, median(window))
			}
		}
	}
	return out
}

// clamp replicates edge voxels so every window is full-size
func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// median calculates the median value of a slice, reordering it in place
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}

// Planar runs bild's 2D median on each Z plane independently. Planes are
// quantised to 8 bits between their own min and max for the filter pass.
type Planar struct {
	Radius float64
}

// Apply implements Filter
func (f *Planar) Apply(g *models.Gray) *models.Gray {
	out := models.NewGray(g.Width, g.Height, g.Depth, g.Cal)
	plane := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	for z := 0; z < g.Depth; z++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := z * g.Width * g.Height; i < (z+1)*g.Width*g.Height; i++ {
			lo = math.Min(lo, g.Data[i])
			hi = math.Max(hi, g.Data[i])
		}
		span := hi - lo
		if span == 0 {
			copy(out.Data[z*g.Width*g.Height:(z+1)*g.Width*g.Height], g.Data[z*g.Width*g.Height:])
			continue
		}
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				plane.SetGray(x, y, color.Gray{Y: uint8(math.Round((g.At(x, y, z) - lo) / span * 255))})
			}
		}
		filtered := effect.Median(plane, f.Radius)
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				c := color.GrayModel.Convert(filtered.At(x, y)).(color.Gray)
				out.Set(x, y, z, lo+float64(c.Y)/255*span)
			}
		}
	}
	return out
}
