// Package filter holds the geometric population filters applied after raw
// detection. Every filter is pure: the input population is left alone and a
// new population sharing the surviving objects is returned, in input order.
package filter

import (
	"errors"
	"fmt"

	"astrofoci/pkg/objects"
)

// ErrUncalibrated is returned when a physical bound cannot be converted
// because the voxel volume is not positive
var ErrUncalibrated = errors.New("voxel volume must be positive")

// Size keeps objects whose physical volume lies in [volMin, volMax].
// Bounds are converted once to voxel counts with the population calibration.
func Size(pop *objects.Population, volMin, volMax float64) (*objects.Population, error) {
	minVox, maxVox, err := VoxelBounds(volMin, volMax, pop.Calibration().VoxelVolume())
	if err != nil {
		return nil, err
	}
	return keep(pop, func(o *objects.Object3D) bool {
		n := float64(o.Size())
		return n >= minVox && n <= maxVox
	}), nil
}

// VoxelBounds converts a physical volume range into voxel-count space
func VoxelBounds(volMin, volMax, voxelVolume float64) (float64, float64, error) {
	if !(voxelVolume > 0) {
		return 0, 0, fmt.Errorf("%w, got %g", ErrUncalibrated, voxelVolume)
	}
	return volMin / voxelVolume, volMax / voxelVolume, nil
}

// ExcludeBorders drops objects whose bounding box touches the in-plane edge of
// a width×height volume. Touching the first or last Z plane is allowed.
func ExcludeBorders(pop *objects.Population, width, height int) *objects.Population {
	return keep(pop, func(o *objects.Object3D) bool {
		b := o.BoundingBox()
		return b.XMin > 0 && b.YMin > 0 && b.XMax < width-1 && b.YMax < height-1
	})
}

// ZSpan drops objects confined to a single Z plane
func ZSpan(pop *objects.Population) *objects.Population {
	return keep(pop, func(o *objects.Object3D) bool {
		b := o.BoundingBox()
		return b.ZMax != b.ZMin
	})
}

func keep(pop *objects.Population, pred func(*objects.Object3D) bool) *objects.Population {
	out := objects.NewPopulation(pop.Calibration())
	for _, o := range pop.Objects() {
		if pred(o) {
			out.Add(o)
		}
	}
	return out
}
