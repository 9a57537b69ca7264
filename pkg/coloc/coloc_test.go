package coloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrofoci/internal/models"
	"astrofoci/pkg/objects"
)

var cal = models.Calibration{PixelWidth: 1, PixelHeight: 1, PixelDepth: 1}

// slab returns n voxels laid out row by row on plane z, starting at x0
func slab(x0, z, n int) []objects.Voxel {
	out := make([]objects.Voxel, n)
	for i := range out {
		out[i] = objects.Voxel{X: x0 + i%100, Y: i / 100, Z: z}
	}
	return out
}

func object(t *testing.T, label int, parts ...[]objects.Voxel) *objects.Object3D {
	t.Helper()
	var voxels []objects.Voxel
	for _, p := range parts {
		voxels = append(voxels, p...)
	}
	o, err := objects.NewObject3D(label, voxels, cal)
	require.NoError(t, err)
	return o
}

func population(objs ...*objects.Object3D) *objects.Population {
	pop := objects.NewPopulation(cal)
	for _, o := range objs {
		pop.Add(o)
	}
	return pop
}

func TestPairs(t *testing.T) {
	b1 := object(t, 1, slab(0, 0, 10))
	b2 := object(t, 2, slab(200, 0, 10))
	b3 := object(t, 3, slab(400, 0, 10))
	a1 := object(t, 9, slab(205, 0, 10), slab(0, 0, 3))
	a2 := object(t, 8, slab(0, 5, 10))

	pairs := Pairs(population(a1, a2), population(b1, b2, b3))
	require.Len(t, pairs, 2)
	require.Len(t, pairs[0], 2)
	assert.Same(t, b1, pairs[0][0].B, "partners follow B order")
	assert.Equal(t, 3, pairs[0][0].Overlap)
	assert.Same(t, b2, pairs[0][1].B)
	assert.Equal(t, 5, pairs[0][1].Overlap)
	assert.Empty(t, pairs[1], "zero-overlap pairs are never produced")
}

func TestAcceptBoundary(t *testing.T) {
	const volume = 500
	floor := int(DefaultAcceptFraction * volume)

	tests := []struct {
		overlap int
		want    bool
	}{
		{floor, false},
		{floor + 1, true},
	}
	for _, tt := range tests {
		nucleus := object(t, 1, slab(0, 0, volume))
		cell := object(t, 1, slab(0, 0, tt.overlap), slab(0, 1, 50))

		res := NewMatcher(PolicyFirst).Match(population(cell), population(nucleus), 1)
		if tt.want {
			assert.Equal(t, 1, res.Cells.Len(), "overlap %d", tt.overlap)
		} else {
			assert.Zero(t, res.Cells.Len(), "overlap %d", tt.overlap)
		}
	}
}

func TestMatchRelabelsAndTracksPartners(t *testing.T) {
	n1 := object(t, 10, slab(0, 0, 20))
	n2 := object(t, 11, slab(300, 0, 20))
	n3 := object(t, 12, slab(600, 0, 20))
	c1 := object(t, 5, slab(300, 0, 20), slab(300, 1, 20))
	c2 := object(t, 6, slab(600, 2, 20))
	c3 := object(t, 7, slab(0, 0, 20))

	nuclei := population(n1, n2, n3)
	res := NewMatcher(PolicyFirst).Match(population(c1, c2, c3), nuclei, 1)

	require.Equal(t, 2, res.Cells.Len())
	assert.Same(t, c1, res.Cells.Objects()[0])
	assert.Equal(t, 1, c1.Label)
	assert.Equal(t, 2, c3.Label)
	assert.Equal(t, 6, c2.Label, "unmatched cells keep their label")
	assert.Equal(t, 3, res.NextID)

	assert.Equal(t, 1, res.PartnerID(n2))
	assert.Equal(t, 2, res.PartnerID(n1))
	assert.Zero(t, res.PartnerID(n3))
	assert.Equal(t, 11, n2.Label, "partner labels are not rewritten")
	require.Len(t, res.Matches, 2)
	assert.Equal(t, Match{ID: 1, Cell: c1, Partner: n2, Overlap: 20}, res.Matches[0])
}

func TestMatchTieBreakPolicies(t *testing.T) {
	build := func() (*objects.Population, *objects.Population, *objects.Object3D, *objects.Object3D) {
		n1 := object(t, 1, slab(0, 0, 10))
		n2 := object(t, 2, slab(100, 0, 10))
		cell := object(t, 1, slab(0, 0, 10), slab(100, 0, 10))
		return population(cell), population(n1, n2), n1, n2
	}

	t.Run("first", func(t *testing.T) {
		cells, nuclei, n1, n2 := build()
		res := NewMatcher(PolicyFirst).Match(cells, nuclei, 4)
		require.Equal(t, 1, res.Cells.Len())
		assert.Equal(t, 4, res.Cells.Objects()[0].Label)
		assert.Equal(t, 4, res.PartnerID(n1))
		assert.Zero(t, res.PartnerID(n2))
		assert.Equal(t, 5, res.NextID)
	})

	t.Run("unique", func(t *testing.T) {
		cells, nuclei, _, _ := build()
		res := NewMatcher(PolicyUnique).Match(cells, nuclei, 4)
		assert.Zero(t, res.Cells.Len())
		assert.Equal(t, 4, res.NextID, "rejected objects consume no id")
	})

	t.Run("legacy", func(t *testing.T) {
		cells, nuclei, n1, n2 := build()
		res := NewMatcher(PolicyLegacy).Match(cells, nuclei, 1)
		require.Equal(t, 2, res.Cells.Len(), "reference behaviour duplicates the cell")
		assert.Same(t, res.Cells.Objects()[0], res.Cells.Objects()[1])
		assert.Equal(t, 2, res.Cells.Objects()[0].Label, "last accepted id wins")
		assert.Equal(t, 1, res.PartnerID(n1))
		assert.Equal(t, 2, res.PartnerID(n2))
		assert.Equal(t, 3, res.NextID)
	})
}

func TestMatchEmptyPopulations(t *testing.T) {
	cell := object(t, 1, slab(0, 0, 10))
	m := NewMatcher(PolicyFirst)

	res := m.Match(population(cell), objects.NewPopulation(cal), 7)
	assert.Zero(t, res.Cells.Len())
	assert.Equal(t, 7, res.NextID)

	res = m.Match(objects.NewPopulation(cal), population(cell), 1)
	assert.Zero(t, res.Cells.Len())
	assert.Empty(t, res.Matches)
}

func TestParsePolicy(t *testing.T) {
	for _, name := range []string{"first", "unique", "legacy"} {
		p, err := ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.String())
	}
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFirst, p)

	_, err = ParsePolicy("largest")
	assert.Error(t, err)
}
