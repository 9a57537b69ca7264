// Package objects models labeled 3D objects and the populations they belong to.
//
// An Object3D is a connected set of voxels carrying an integer label that is
// unique within its Population. Objects are built from a labeled mask, then
// filtered, relabeled and translated by the later pipeline stages. Voxel
// membership never changes after construction except through Translate.
package objects

import (
	"errors"
	"math"

	"astrofoci/internal/models"
)

// Voxel is an integer 3D coordinate
type Voxel struct {
	X, Y, Z int
}

// BoundingBox is an inclusive axis-aligned box over voxel coordinates
type BoundingBox struct {
	XMin, XMax int
	YMin, YMax int
	ZMin, ZMax int
}

// Contains reports whether v lies inside the box
func (b BoundingBox) Contains(v Voxel) bool {
	return v.X >= b.XMin && v.X <= b.XMax &&
		v.Y >= b.YMin && v.Y <= b.YMax &&
		v.Z >= b.ZMin && v.Z <= b.ZMax
}

// Size returns the number of voxels along each axis
func (b BoundingBox) Size() (int, int, int) {
	return b.XMax - b.XMin + 1, b.YMax - b.YMin + 1, b.ZMax - b.ZMin + 1
}

// ErrEmptyObject is returned when an object would have no voxels
var ErrEmptyObject = errors.New("object has no voxels")

// Object3D is a labeled set of voxels
type Object3D struct {
	// Label identifies the object within its population. Relabeling is a
	// pipeline operation, so the field is writable.
	Label int

	voxels []Voxel
	box    BoundingBox
	cal    models.Calibration

	// index is built on the first membership query
	index map[Voxel]struct{}
}

// NewObject3D creates an object from its voxels. The slice is owned by the
// object afterwards.
func NewObject3D(label int, voxels []Voxel, cal models.Calibration) (*Object3D, error) {
	if len(voxels) == 0 {
		return nil, ErrEmptyObject
	}
	o := &Object3D{Label: label, voxels: voxels, cal: cal}
	o.box = computeBox(voxels)
	return o, nil
}

func computeBox(voxels []Voxel) BoundingBox {
	b := BoundingBox{
		XMin: voxels[0].X, XMax: voxels[0].X,
		YMin: voxels[0].Y, YMax: voxels[0].Y,
		ZMin: voxels[0].Z, ZMax: voxels[0].Z,
	}
	for _, v := range voxels[1:] {
		b.XMin = min(b.XMin, v.X)
		b.XMax = max(b.XMax, v.X)
		b.YMin = min(b.YMin, v.Y)
		b.YMax = max(b.YMax, v.Y)
		b.ZMin = min(b.ZMin, v.Z)
		b.ZMax = max(b.ZMax, v.Z)
	}
	return b
}

// Voxels returns the voxel set. Callers must not modify it.
func (o *Object3D) Voxels() []Voxel { return o.voxels }

// Size is the voxel count
func (o *Object3D) Size() int { return len(o.voxels) }

// BoundingBox returns the tight bounding box of the voxels
func (o *Object3D) BoundingBox() BoundingBox { return o.box }

// Calibration returns the physical voxel size the object was measured with
func (o *Object3D) Calibration() models.Calibration { return o.cal }

// Volume is the physical volume: voxel count × calibrated voxel volume
func (o *Object3D) Volume() float64 {
	return float64(len(o.voxels)) * o.cal.VoxelVolume()
}

// Centroid returns the mean voxel position in voxel units
func (o *Object3D) Centroid() (x, y, z float64) {
	for _, v := range o.voxels {
		x += float64(v.X)
		y += float64(v.Y)
		z += float64(v.Z)
	}
	n := float64(len(o.voxels))
	return x / n, y / n, z / n
}

// CentroidVoxel returns the centroid rounded to the nearest voxel
func (o *Object3D) CentroidVoxel() Voxel {
	x, y, z := o.Centroid()
	return Voxel{X: int(math.Round(x)), Y: int(math.Round(y)), Z: int(math.Round(z))}
}

// Contains tests exact voxel-set membership
func (o *Object3D) Contains(v Voxel) bool {
	if !o.box.Contains(v) {
		return false
	}
	if o.index == nil {
		o.index = make(map[Voxel]struct{}, len(o.voxels))
		for _, w := range o.voxels {
			o.index[w] = struct{}{}
		}
	}
	_, ok := o.index[v]
	return ok
}

// translate shifts every voxel. The new voxel slice is built before it is
// swapped in so readers never see a half-moved object.
func (o *Object3D) translate(dx, dy, dz int) {
	moved := make([]Voxel, len(o.voxels))
	for i, v := range o.voxels {
		moved[i] = Voxel{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz}
	}
	o.voxels = moved
	o.box = BoundingBox{
		XMin: o.box.XMin + dx, XMax: o.box.XMax + dx,
		YMin: o.box.YMin + dy, YMax: o.box.YMax + dy,
		ZMin: o.box.ZMin + dz, ZMax: o.box.ZMax + dz,
	}
	o.index = nil
}
