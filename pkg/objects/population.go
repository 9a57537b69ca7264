package objects

import (
	"fmt"
	"sort"

	"astrofoci/internal/models"
)

// Population is an ordered collection of objects sharing one coordinate frame
// and one calibration.
type Population struct {
	objects []*Object3D
	cal     models.Calibration
}

// NewPopulation creates an empty population
func NewPopulation(cal models.Calibration) *Population {
	return &Population{cal: cal}
}

// FromLabels builds one object per distinct non-zero label of the mask.
// Objects are ordered by ascending label and keep the mask's label values.
func FromLabels(mask *models.Labels, cal models.Calibration) *Population {
	byLabel := make(map[int32][]Voxel)
	for z := 0; z < mask.Depth; z++ {
		for y := 0; y < mask.Height; y++ {
			row := mask.Data[mask.Index(0, y, z):]
			for x := 0; x < mask.Width; x++ {
				if l := row[x]; l > 0 {
					byLabel[l] = append(byLabel[l], Voxel{X: x, Y: y, Z: z})
				}
			}
		}
	}

	labels := make([]int32, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	pop := NewPopulation(cal)
	for _, l := range labels {
		// never empty: every key was created by an append
		o, _ := NewObject3D(int(l), byLabel[l], cal)
		pop.objects = append(pop.objects, o)
	}
	return pop
}

// Calibration returns the population's voxel calibration
func (p *Population) Calibration() models.Calibration { return p.cal }

// Len returns the number of objects
func (p *Population) Len() int { return len(p.objects) }

// Objects returns the members in population order
func (p *Population) Objects() []*Object3D { return p.objects }

// Add appends an object. Objects are shared, not copied.
func (p *Population) Add(o *Object3D) {
	p.objects = append(p.objects, o)
}

// ResetLabels assigns dense labels 1..N ranked by the current labels, ties
// broken by population order. Voxel membership is untouched.
func (p *Population) ResetLabels() {
	order := make([]int, len(p.objects))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return p.objects[order[i]].Label < p.objects[order[j]].Label
	})
	for rank, idx := range order {
		p.objects[idx].Label = rank + 1
	}
}

// Translate shifts every member object by (dx, dy, dz)
func (p *Population) Translate(dx, dy, dz int) {
	for _, o := range p.objects {
		o.translate(dx, dy, dz)
	}
}

// TotalVolume sums the physical volume of every member
func (p *Population) TotalVolume() float64 {
	var sum float64
	for _, o := range p.objects {
		sum += o.Volume()
	}
	return sum
}

// Draw paints every object into mask using value(o) as the voxel value.
// Voxels outside the mask are skipped.
func (p *Population) Draw(mask *models.Labels, value func(*Object3D) int32) {
	for _, o := range p.objects {
		v := value(o)
		for _, vx := range o.voxels {
			if vx.X < 0 || vx.Y < 0 || vx.Z < 0 || vx.X >= mask.Width || vx.Y >= mask.Height || vx.Z >= mask.Depth {
				continue
			}
			mask.Set(vx.X, vx.Y, vx.Z, v)
		}
	}
}

// String summarises the population for log lines
func (p *Population) String() string {
	return fmt.Sprintf("%d objects", len(p.objects))
}
