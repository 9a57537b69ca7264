package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrofoci/internal/models"
	"astrofoci/pkg/objects"
)

// cal gives a voxel volume of 0.1 µm³
var cal = models.Calibration{PixelWidth: 0.5, PixelHeight: 0.5, PixelDepth: 0.4}

func box(t *testing.T, label int, b objects.BoundingBox) *objects.Object3D {
	t.Helper()
	var voxels []objects.Voxel
	for z := b.ZMin; z <= b.ZMax; z++ {
		for y := b.YMin; y <= b.YMax; y++ {
			for x := b.XMin; x <= b.XMax; x++ {
				voxels = append(voxels, objects.Voxel{X: x, Y: y, Z: z})
			}
		}
	}
	o, err := objects.NewObject3D(label, voxels, cal)
	require.NoError(t, err)
	return o
}

func size(t *testing.T, pop *objects.Population, volMin, volMax float64) *objects.Population {
	t.Helper()
	out, err := Size(pop, volMin, volMax)
	require.NoError(t, err)
	return out
}

func labels(pop *objects.Population) []int {
	out := []int{}
	for _, o := range pop.Objects() {
		out = append(out, o.Label)
	}
	return out
}

// samplePopulation lives in a 20×20×5 volume
func samplePopulation(t *testing.T) *objects.Population {
	pop := objects.NewPopulation(cal)
	pop.Add(box(t, 1, objects.BoundingBox{XMin: 2, XMax: 3, YMin: 2, YMax: 3, ZMin: 0, ZMax: 1}))     // 8 vox, inner
	pop.Add(box(t, 2, objects.BoundingBox{XMin: 0, XMax: 4, YMin: 5, YMax: 6, ZMin: 1, ZMax: 2}))     // 20 vox, x border
	pop.Add(box(t, 3, objects.BoundingBox{XMin: 8, XMax: 12, YMin: 8, YMax: 12, ZMin: 0, ZMax: 4}))   // 125 vox, full depth
	pop.Add(box(t, 4, objects.BoundingBox{XMin: 14, XMax: 18, YMin: 15, YMax: 19, ZMin: 2, ZMax: 3})) // 50 vox, y border
	pop.Add(box(t, 5, objects.BoundingBox{XMin: 5, XMax: 9, YMin: 2, YMax: 5, ZMin: 3, ZMax: 3}))     // 20 vox, single plane
	return pop
}

func TestSize(t *testing.T) {
	pop := samplePopulation(t)

	tests := []struct {
		name           string
		volMin, volMax float64
		want           []int
	}{
		{"inclusive bounds", 0.8, 2.0, []int{1, 2, 5}},
		{"upper bound only just", 2.0, 12.5, []int{2, 3, 4, 5}},
		{"nothing", 100, 200, []int{}},
		{"everything", 0, 1000, []int{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labels(size(t, pop, tt.volMin, tt.volMax)))
		})
	}
	assert.Equal(t, 5, pop.Len(), "input is unmodified")
}

func TestSizeIdempotent(t *testing.T) {
	pop := samplePopulation(t)
	once := size(t, pop, 1, 6)
	twice := size(t, once, 1, 6)
	assert.Equal(t, labels(once), labels(twice))
	for i, o := range once.Objects() {
		assert.Same(t, o, twice.Objects()[i])
	}
}

func TestExcludeBorders(t *testing.T) {
	pop := samplePopulation(t)
	out := ExcludeBorders(pop, 20, 20)
	assert.Equal(t, []int{1, 3, 5}, labels(out), "z-border contact is kept")
	assert.Same(t, pop.Objects()[0], out.Objects()[0], "objects are shared")
}

func TestZSpan(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 4}, labels(ZSpan(samplePopulation(t))))
}

func TestFilterOrderIndependence(t *testing.T) {
	pop := samplePopulation(t)
	a := size(t, ExcludeBorders(pop, 20, 20), 1, 6)
	b := ExcludeBorders(size(t, pop, 1, 6), 20, 20)
	assert.Equal(t, labels(a), labels(b))
}

func TestEmptyPopulation(t *testing.T) {
	empty := objects.NewPopulation(cal)
	assert.Zero(t, size(t, empty, 0, 1).Len())
	assert.Zero(t, ExcludeBorders(empty, 4, 4).Len())
	assert.Zero(t, ZSpan(empty).Len())
}

func TestVoxelBounds(t *testing.T) {
	lo, hi, err := VoxelBounds(50, 2000, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 100, lo, 1e-9)
	assert.InDelta(t, 4000, hi, 1e-9)

	for _, vv := range []float64{0, -0.1, math.NaN()} {
		_, _, err = VoxelBounds(1, 2, vv)
		assert.ErrorIs(t, err, ErrUncalibrated, "voxel volume %g", vv)
	}
}

func TestSizeRejectsUncalibratedPopulation(t *testing.T) {
	pop := objects.NewPopulation(models.Calibration{})
	o, err := objects.NewObject3D(1, []objects.Voxel{{X: 1, Y: 1, Z: 1}}, models.Calibration{})
	require.NoError(t, err)
	pop.Add(o)

	_, err = Size(pop, 50, 2000)
	assert.ErrorIs(t, err, ErrUncalibrated)
}
