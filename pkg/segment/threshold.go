package segment

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"astrofoci/internal/models"
)

// Threshold is an in-process detector: percentile normalisation, a global
// probability threshold, 2D connected components per plane, then stitching
// of components on adjacent planes by overlap.
type Threshold struct {
	// CellProbThreshold is the normalised intensity above which a voxel is
	// cell or nucleus foreground
	CellProbThreshold float64

	// CellPercentileLow and CellPercentileHigh bound the cell normalisation
	CellPercentileLow  float64
	CellPercentileHigh float64

	// FociDownsample runs foci detection at 1/FociDownsample in-plane
	// resolution when greater than 1
	FociDownsample int
}

// NewThreshold returns a detector with the defaults used by the pipeline
func NewThreshold() *Threshold {
	return &Threshold{
		CellProbThreshold:  0.3,
		CellPercentileLow:  1,
		CellPercentileHigh: 99.8,
		FociDownsample:     1,
	}
}

// DetectCells implements CellDetector
func (t *Threshold) DetectCells(ctx context.Context, vol *models.Gray, p CellParams) (*models.Labels, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	norm := Normalize(vol.Data, t.CellPercentileLow, t.CellPercentileHigh)
	fg := make([]bool, len(norm))
	for i, v := range norm {
		fg[i] = v > t.CellProbThreshold
	}
	// components smaller than a sixteenth of the nominal disc are debris
	minArea := int(math.Pi * p.Diameter * p.Diameter / 64)
	return stitchPlanes(fg, vol.Width, vol.Height, vol.Depth, minArea, p.StitchThreshold), nil
}

// DetectFoci implements FociDetector
func (t *Threshold) DetectFoci(ctx context.Context, crop *models.Gray, p FociParams) (*FociMask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	work := crop
	scale := 1.0
	if t.FociDownsample > 1 {
		w := max(1, crop.Width/t.FociDownsample)
		h := max(1, crop.Height/t.FociDownsample)
		small, err := crop.ResizeXY(w, h)
		if err != nil {
			return nil, fmt.Errorf("failed to downsample crop: %w", err)
		}
		work = small
		scale = float64(crop.Width) / float64(w)
	}

	norm := Normalize(work.Data, p.PercentileLow, p.PercentileHigh)
	fg := make([]bool, len(norm))
	for i, v := range norm {
		fg[i] = v > p.ProbThreshold
	}
	labels := stitchPlanes(fg, work.Width, work.Height, work.Depth, 1, p.OverlapThreshold)
	return &FociMask{Labels: labels, Scale: scale}, nil
}

// Normalize maps data linearly so that the low and high percentiles become 0
// and 1, clamping outside values. Percentiles are given in [0, 100].
func Normalize(data []float64, low, high float64) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	lo := stat.Quantile(low/100, stat.Empirical, sorted, nil)
	hi := stat.Quantile(high/100, stat.Empirical, sorted, nil)
	span := hi - lo
	if span <= 0 {
		return out
	}
	for i, v := range data {
		out[i] = math.Max(0, math.Min(1, (v-lo)/span))
	}
	return out
}

// stitchPlanes labels 4-connected foreground components on every plane, drops
// those below minArea, and gives a component the label of the previous-plane
// component it overlaps best when their IoU reaches stitch.
func stitchPlanes(fg []bool, w, h, d, minArea int, stitch float64) *models.Labels {
	out := models.NewLabels(w, h, d)
	next := int32(1)
	var prev []int32
	for z := 0; z < d; z++ {
		plane, areas := labelPlane(fg[z*w*h:(z+1)*w*h], w, h)

		remap := make(map[int32]int32, len(areas))
		if prev != nil && stitch > 0 {
			remap = matchPrevious(plane, prev, areas, stitch)
		}
		// local ids are assigned in raster order, so iterating them in order
		// keeps the numbering deterministic
		for local := int32(1); int(local) <= len(areas); local++ {
			if areas[local-1] < minArea {
				remap[local] = 0
				continue
			}
			if _, ok := remap[local]; !ok {
				remap[local] = next
				next++
			}
		}

		cur := out.Data[z*w*h : (z+1)*w*h]
		for i, l := range plane {
			if l != 0 {
				cur[i] = remap[l]
			}
		}
		prev = cur
	}
	return out
}

// labelPlane returns 4-connected component ids (1-based, raster order) and
// the area of each component
func labelPlane(fg []bool, w, h int) ([]int32, []int) {
	ids := make([]int32, w*h)
	var areas []int
	stack := make([]int, 0, 64)
	for start := range fg {
		if !fg[start] || ids[start] != 0 {
			continue
		}
		id := int32(len(areas) + 1)
		area := 0
		ids[start] = id
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++
			x, y := i%w, i/w
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
					continue
				}
				j := n[1]*w + n[0]
				if fg[j] && ids[j] == 0 {
					ids[j] = id
					stack = append(stack, j)
				}
			}
		}
		areas = append(areas, area)
	}
	return ids, areas
}

// matchPrevious finds, for each local component, the previous-plane label with
// the best IoU at or above stitch
func matchPrevious(plane, prev []int32, areas []int, stitch float64) map[int32]int32 {
	type key struct{ local, prev int32 }
	inter := make(map[key]int)
	prevArea := make(map[int32]int)
	for i, l := range plane {
		if p := prev[i]; p != 0 {
			prevArea[p]++
			if l != 0 {
				inter[key{l, p}]++
			}
		}
	}

	keys := make([]key, 0, len(inter))
	for k := range inter {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].local != keys[j].local {
			return keys[i].local < keys[j].local
		}
		return keys[i].prev < keys[j].prev
	})

	best := make(map[int32]float64)
	remap := make(map[int32]int32)
	for _, k := range keys {
		n := inter[k]
		iou := float64(n) / float64(areas[k.local-1]+prevArea[k.prev]-n)
		if iou >= stitch && iou > best[k.local] {
			best[k.local] = iou
			remap[k.local] = k.prev
		}
	}
	return remap
}
