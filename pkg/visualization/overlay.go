// Package visualization renders the quality-control overlay of one image:
// the raw channel in grey with foci, cells and matched nuclei painted on top,
// every plane tiled into a single RGB TIFF.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"

	"astrofoci/internal/models"
	"astrofoci/pkg/objects"
)

// FociValue is the mask value painted for every retained focus
const FociValue = 255

const (
	cellHue    = 120.0
	nucleusHue = 230.0
	layerAlpha = 0.6
)

// Overlay holds the raw channel and the three label layers of one image
type Overlay struct {
	width  int
	height int
	depth  int

	// raw intensities scaled to [0, 1]
	raw []float64

	foci   *models.Labels
	cells  *models.Labels
	nuclei *models.Labels
}

// NewOverlay starts an overlay on top of the raw channel
func NewOverlay(raw *models.Gray) *Overlay {
	o := &Overlay{
		width:  raw.Width,
		height: raw.Height,
		depth:  raw.Depth,
		raw:    make([]float64, len(raw.Data)),
		foci:   models.NewLabels(raw.Width, raw.Height, raw.Depth),
		cells:  models.NewLabels(raw.Width, raw.Height, raw.Depth),
		nuclei: models.NewLabels(raw.Width, raw.Height, raw.Depth),
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range raw.Data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi > lo {
		for i, v := range raw.Data {
			o.raw[i] = (v - lo) / (hi - lo)
		}
	}
	return o
}

// AddFoci paints every focus with FociValue
func (o *Overlay) AddFoci(foci *objects.Population) {
	foci.Draw(o.foci, func(*objects.Object3D) int32 { return FociValue })
}

// AddCells paints every cell with its own label
func (o *Overlay) AddCells(cells *objects.Population) {
	cells.Draw(o.cells, func(c *objects.Object3D) int32 { return int32(c.Label) })
}

// AddNuclei paints every nucleus with the id returned by partner; nuclei
// with id 0 did not match any cell and are left out.
func (o *Overlay) AddNuclei(nuclei *objects.Population, partner func(*objects.Object3D) int) {
	nuclei.Draw(o.nuclei, func(n *objects.Object3D) int32 { return int32(partner(n)) })
}

// labelColor spreads labels over a narrow band around hue so neighbours differ
func labelColor(hue float64, label int32) colorful.Color {
	offset := float64((label*37)%60) - 30
	value := 0.6 + 0.4*float64(label%3)/2
	return colorful.Hsv(math.Mod(hue+offset+360, 360), 1, value)
}

func (o *Overlay) pixel(idx int) color.RGBA {
	g := o.raw[idx]
	c := colorful.Color{R: g, G: g, B: g}
	if l := o.nuclei.Data[idx]; l > 0 {
		c = c.BlendRgb(labelColor(nucleusHue, l), layerAlpha)
	}
	if l := o.cells.Data[idx]; l > 0 {
		c = c.BlendRgb(labelColor(cellHue, l), layerAlpha)
	}
	if o.foci.Data[idx] > 0 {
		c = colorful.Color{R: 1, G: 0, B: 0}
	}
	r, gr, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: gr, B: b, A: 255}
}

// ExtractSlice renders one plane along the given axis
func (o *Overlay) ExtractSlice(axis string, position int) (*image.RGBA, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.RGBA
	switch axis {
	case "x", "X":
		if position >= o.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, o.width)
		}
		img = image.NewRGBA(image.Rect(0, 0, o.depth, o.height))
		for y := 0; y < o.height; y++ {
			for z := 0; z < o.depth; z++ {
				img.SetRGBA(z, y, o.pixel(o.index(position, y, z)))
			}
		}
	case "y", "Y":
		if position >= o.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, o.height)
		}
		img = image.NewRGBA(image.Rect(0, 0, o.width, o.depth))
		for z := 0; z < o.depth; z++ {
			for x := 0; x < o.width; x++ {
				img.SetRGBA(x, z, o.pixel(o.index(x, position, z)))
			}
		}
	case "z", "Z":
		if position >= o.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, o.depth)
		}
		img = image.NewRGBA(image.Rect(0, 0, o.width, o.height))
		for y := 0; y < o.height; y++ {
			for x := 0; x < o.width; x++ {
				img.SetRGBA(x, y, o.pixel(o.index(x, y, position)))
			}
		}
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return img, nil
}

func (o *Overlay) index(x, y, z int) int {
	return z*o.width*o.height + y*o.width + x
}

// Montage tiles every Z plane left to right, top to bottom
func (o *Overlay) Montage() *image.RGBA {
	cols := int(math.Ceil(math.Sqrt(float64(o.depth))))
	if cols < 1 {
		cols = 1
	}
	rows := (o.depth + cols - 1) / cols
	out := image.NewRGBA(image.Rect(0, 0, cols*o.width, rows*o.height))

	for z := 0; z < o.depth; z++ {
		ox := (z % cols) * o.width
		oy := (z / cols) * o.height
		for y := 0; y < o.height; y++ {
			for x := 0; x < o.width; x++ {
				out.SetRGBA(ox+x, oy+y, o.pixel(o.index(x, y, z)))
			}
		}
	}
	return out
}

// Save writes the montage as a deflate-compressed TIFF
func (o *Overlay) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := tiff.Encode(file, o.Montage(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("failed to encode overlay %s: %w", path, err)
	}
	return file.Close()
}

// SaveSliceSequence writes every plane along axis as PNG files in outputDir
func (o *Overlay) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = o.width
	case "y", "Y":
		maxPos = o.height
	case "z", "Z":
		maxPos = o.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for pos := 0; pos < maxPos; pos++ {
		img, err := o.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := imaging.Save(img, filename); err != nil {
			return fmt.Errorf("failed to save slice %s: %w", filename, err)
		}
	}
	return nil
}

// SaveSlices writes the x, y and z plane sequences under dir/<axis>
func (o *Overlay) SaveSlices(dir string) error {
	for _, axis := range []string{"x", "y", "z"} {
		if err := o.SaveSliceSequence(axis, filepath.Join(dir, axis)); err != nil {
			return err
		}
	}
	return nil
}
