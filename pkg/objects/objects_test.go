package objects

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrofoci/internal/models"
)

var testCal = models.Calibration{PixelWidth: 0.5, PixelHeight: 0.5, PixelDepth: 1}

// fillBox writes label into the inclusive box of mask
func fillBox(mask *models.Labels, label int32, b BoundingBox) {
	for z := b.ZMin; z <= b.ZMax; z++ {
		for y := b.YMin; y <= b.YMax; y++ {
			for x := b.XMin; x <= b.XMax; x++ {
				mask.Set(x, y, z, label)
			}
		}
	}
}

func TestFromLabels(t *testing.T) {
	mask := models.NewLabels(10, 10, 4)
	fillBox(mask, 7, BoundingBox{XMin: 1, XMax: 2, YMin: 1, YMax: 3, ZMin: 0, ZMax: 1})
	fillBox(mask, 3, BoundingBox{XMin: 5, XMax: 8, YMin: 5, YMax: 5, ZMin: 2, ZMax: 3})

	pop := FromLabels(mask, testCal)
	require.Equal(t, 2, pop.Len())

	first, second := pop.Objects()[0], pop.Objects()[1]
	assert.Equal(t, 3, first.Label, "objects are ordered by label")
	assert.Equal(t, 8, first.Size())
	assert.Equal(t, BoundingBox{XMin: 5, XMax: 8, YMin: 5, YMax: 5, ZMin: 2, ZMax: 3}, first.BoundingBox())
	assert.Equal(t, 7, second.Label)
	assert.Equal(t, 12, second.Size())
	assert.InDelta(t, 12*0.25, second.Volume(), 1e-12)
}

func TestFromLabelsEmptyMask(t *testing.T) {
	pop := FromLabels(models.NewLabels(4, 4, 2), testCal)
	assert.Equal(t, 0, pop.Len())
	assert.Zero(t, pop.TotalVolume())
}

func TestNewObject3DRejectsEmpty(t *testing.T) {
	_, err := NewObject3D(1, nil, testCal)
	assert.ErrorIs(t, err, ErrEmptyObject)
}

func TestResetLabels(t *testing.T) {
	pop := NewPopulation(testCal)
	for _, l := range []int{40, 5, 17} {
		o, err := NewObject3D(l, []Voxel{{X: l, Y: 0, Z: 0}}, testCal)
		require.NoError(t, err)
		pop.Add(o)
	}

	pop.ResetLabels()

	var labels []int
	for _, o := range pop.Objects() {
		labels = append(labels, o.Label)
	}
	assert.Equal(t, []int{3, 1, 2}, labels)
	assert.Equal(t, 17, pop.Objects()[2].Voxels()[0].X, "membership follows the object")
}

func TestTranslateRoundTrip(t *testing.T) {
	mask := models.NewLabels(8, 8, 3)
	fillBox(mask, 1, BoundingBox{XMin: 0, XMax: 2, YMin: 1, YMax: 2, ZMin: 0, ZMax: 2})
	fillBox(mask, 2, BoundingBox{XMin: 5, XMax: 7, YMin: 5, YMax: 7, ZMin: 1, ZMax: 1})
	pop := FromLabels(mask, testCal)

	before := make([][]Voxel, pop.Len())
	boxes := make([]BoundingBox, pop.Len())
	for i, o := range pop.Objects() {
		before[i] = append([]Voxel(nil), o.Voxels()...)
		boxes[i] = o.BoundingBox()
	}

	pop.Translate(12, -3, 4)
	moved := pop.Objects()[0]
	assert.Equal(t, BoundingBox{XMin: 12, XMax: 14, YMin: -2, YMax: -1, ZMin: 4, ZMax: 6}, moved.BoundingBox())
	assert.True(t, moved.Contains(Voxel{X: 13, Y: -2, Z: 5}))
	assert.False(t, moved.Contains(Voxel{X: 1, Y: 1, Z: 1}))

	pop.Translate(-12, 3, -4)
	for i, o := range pop.Objects() {
		if diff := cmp.Diff(before[i], o.Voxels()); diff != "" {
			t.Errorf("object %d voxels changed after round trip (-want +got):\n%s", i, diff)
		}
		assert.Equal(t, boxes[i], o.BoundingBox())
	}
}

func TestCentroidAndContains(t *testing.T) {
	// L-shaped object whose rounded centroid falls outside the voxel set
	voxels := []Voxel{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0}, {X: 0, Y: 2, Z: 0},
	}
	o, err := NewObject3D(1, voxels, testCal)
	require.NoError(t, err)

	x, y, z := o.Centroid()
	assert.InDelta(t, 0.6, x, 1e-12)
	assert.InDelta(t, 0.6, y, 1e-12)
	assert.Zero(t, z)

	c := o.CentroidVoxel()
	assert.Equal(t, Voxel{X: 1, Y: 1, Z: 0}, c)
	assert.True(t, o.BoundingBox().Contains(c))
	assert.False(t, o.Contains(c))
	assert.True(t, o.Contains(Voxel{X: 0, Y: 2, Z: 0}))
}

func TestDraw(t *testing.T) {
	mask := models.NewLabels(6, 6, 2)
	fillBox(mask, 4, BoundingBox{XMin: 1, XMax: 2, YMin: 1, YMax: 2, ZMin: 0, ZMax: 1})
	pop := FromLabels(mask, testCal)
	pop.Translate(4, 0, 0)

	out := models.NewLabels(6, 6, 2)
	pop.Draw(out, func(o *Object3D) int32 { return int32(o.Label * 10) })
	assert.Equal(t, int32(40), out.At(5, 1, 0))
	assert.Equal(t, int32(0), out.At(1, 1, 0))

	var painted int
	for _, v := range out.Data {
		if v != 0 {
			painted++
		}
	}
	assert.Equal(t, 4, painted, "voxels shifted past the edge are clipped")
}
