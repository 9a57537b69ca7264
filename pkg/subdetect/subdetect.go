// Package subdetect re-runs foci detection locally inside every accepted cell
// and brings the detections back into the image's coordinate frame.
package subdetect

import (
	"context"
	"fmt"

	"astrofoci/internal/models"
	"astrofoci/pkg/denoise"
	"astrofoci/pkg/filter"
	"astrofoci/pkg/objects"
	"astrofoci/pkg/segment"
)

// Params holds the foci detection settings applied to every cell crop
type Params struct {
	Foci segment.FociParams

	// VolMin and VolMax bound the physical foci volume in µm³
	VolMin, VolMax float64
}

// Detector crops, denoises, detects, filters and translates foci for one cell
type Detector struct {
	Foci    segment.FociDetector
	Denoise denoise.Filter
	Params  Params
}

// New returns a Detector
func New(foci segment.FociDetector, median denoise.Filter, params Params) *Detector {
	return &Detector{Foci: foci, Denoise: median, Params: params}
}

// DetectInCell returns the foci found in the bounding box of cell, in the
// global frame of src. Foci are not yet checked against the cell's shape.
func (d *Detector) DetectInCell(ctx context.Context, src *models.Gray, cell *objects.Object3D) (*objects.Population, error) {
	box := cell.BoundingBox()
	crop, err := src.Crop(box.XMin, box.XMax, box.YMin, box.YMax, box.ZMin, box.ZMax)
	if err != nil {
		return nil, fmt.Errorf("failed to crop cell %d: %w", cell.Label, err)
	}

	input := crop
	if d.Denoise != nil {
		input = d.Denoise.Apply(crop)
	}

	mask, err := d.Foci.DetectFoci(ctx, input, d.Params.Foci)
	if err != nil {
		return nil, fmt.Errorf("foci detection failed in cell %d: %w", cell.Label, err)
	}

	labels := mask.Labels
	if labels.Depth != crop.Depth {
		return nil, fmt.Errorf("foci mask has %d planes, crop has %d", labels.Depth, crop.Depth)
	}
	if labels.Width != crop.Width || labels.Height != crop.Height {
		labels, err = labels.ResizeXY(crop.Width, crop.Height)
		if err != nil {
			return nil, fmt.Errorf("failed to resize foci mask (scale %.2f): %w", mask.Scale, err)
		}
	}

	pop := objects.FromLabels(labels, src.Cal)
	pop, err = filter.Size(pop, d.Params.VolMin, d.Params.VolMax)
	if err != nil {
		return nil, fmt.Errorf("failed to filter foci in cell %d: %w", cell.Label, err)
	}
	pop.Translate(box.XMin, box.YMin, box.ZMin)
	return pop, nil
}
