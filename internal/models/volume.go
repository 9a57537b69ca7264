package models

import (
	"fmt"
	"math"
)

// Calibration is the physical size of one voxel in microns
type Calibration struct {
	// PixelWidth is the voxel size along X
	PixelWidth float64 `yaml:"pixelWidth"`

	// PixelHeight is the voxel size along Y. Microscopy stacks are isotropic
	// in-plane so this always equals PixelWidth once a calibration is resolved.
	PixelHeight float64 `yaml:"pixelHeight"`

	// PixelDepth is the distance between consecutive Z planes
	PixelDepth float64 `yaml:"pixelDepth"`

	// Unit is the physical unit name, "microns" unless the file says otherwise
	Unit string `yaml:"unit"`
}

// VoxelVolume returns the physical volume of one voxel (pixelWidth² × pixelDepth)
func (c Calibration) VoxelVolume() float64 {
	return c.PixelWidth * c.PixelWidth * c.PixelDepth
}

// Valid reports whether every axis has a positive size
func (c Calibration) Valid() bool {
	return c.PixelWidth > 0 && c.PixelHeight > 0 && c.PixelDepth > 0
}

// Gray is a 3D grayscale volume for one channel.
// Data is stored as a 1D array in z*width*height + y*width + x order.
type Gray struct {
	// Data holds the voxel intensities
	Data []float64

	// Width, Height, Depth are the dimensions of the volume in voxels
	Width, Height, Depth int

	// Cal is the physical calibration of the voxels
	Cal Calibration
}

// NewGray allocates an empty grayscale volume
func NewGray(width, height, depth int, cal Calibration) *Gray {
	return &Gray{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
		Cal:    cal,
	}
}

// Index returns the position of (x, y, z) in Data
func (g *Gray) Index(x, y, z int) int {
	return z*g.Width*g.Height + y*g.Width + x
}

// At returns the intensity at (x, y, z)
func (g *Gray) At(x, y, z int) float64 {
	return g.Data[g.Index(x, y, z)]
}

// Set stores an intensity at (x, y, z)
func (g *Gray) Set(x, y, z int, v float64) {
	g.Data[g.Index(x, y, z)] = v
}

// Release drops the voxel buffer so the memory can be reclaimed before the
// next channel is loaded.
func (g *Gray) Release() {
	g.Data = nil
}

// Crop extracts the inclusive region [x0,x1]×[y0,y1]×[z0,z1]
func (g *Gray) Crop(x0, x1, y0, y1, z0, z1 int) (*Gray, error) {
	if x0 < 0 || y0 < 0 || z0 < 0 {
		return nil, fmt.Errorf("crop start (%d,%d,%d) must be non-negative", x0, y0, z0)
	}
	if x1 < x0 || y1 < y0 || z1 < z0 {
		return nil, fmt.Errorf("invalid crop region (%d,%d,%d)-(%d,%d,%d)", x0, y0, z0, x1, y1, z1)
	}
	if x1 >= g.Width || y1 >= g.Height || z1 >= g.Depth {
		return nil, fmt.Errorf("crop region extends beyond volume boundaries %dx%dx%d", g.Width, g.Height, g.Depth)
	}

	sizeX, sizeY, sizeZ := x1-x0+1, y1-y0+1, z1-z0+1
	out := NewGray(sizeX, sizeY, sizeZ, g.Cal)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			src := g.Index(x0, y0+y, z0+z)
			dst := out.Index(0, y, z)
			copy(out.Data[dst:dst+sizeX], g.Data[src:src+sizeX])
		}
	}
	return out, nil
}

// ResizeXY returns a copy resampled in-plane to width×height with
// nearest-neighbour interpolation. Z is left untouched.
func (g *Gray) ResizeXY(width, height int) (*Gray, error) {
	if width == g.Width && height == g.Height {
		out := NewGray(width, height, g.Depth, g.Cal)
		copy(out.Data, g.Data)
		return out, nil
	}
	src := make([]uint32, len(g.Data))
	for i, v := range g.Data {
		src[i] = uint32(math.Max(0, math.Min(65535, math.Round(v))))
	}
	dst, err := resizeNearest(src, g.Width, g.Height, g.Depth, width, height)
	if err != nil {
		return nil, err
	}
	cal := g.Cal
	cal.PixelWidth *= float64(g.Width) / float64(width)
	cal.PixelHeight *= float64(g.Height) / float64(height)
	out := NewGray(width, height, g.Depth, cal)
	for i, v := range dst {
		out.Data[i] = float64(v)
	}
	return out, nil
}
