// Package aggregate assigns detected foci to their enclosing cell and keeps the
// per-cell foci count and volume.
package aggregate

import (
	"astrofoci/internal/models"
	"astrofoci/pkg/objects"
)

// CellMetrics is the aggregated foci result for one cell
type CellMetrics struct {
	FociCount  int
	FociVolume float64
}

// Contained returns the foci whose rounded centroid is a voxel of cell.
// Bounding-box proximity is not enough.
func Contained(cell *objects.Object3D, foci *objects.Population) *objects.Population {
	out := objects.NewPopulation(foci.Calibration())
	for _, f := range foci.Objects() {
		if cell.Contains(f.CentroidVoxel()) {
			out.Add(f)
		}
	}
	return out
}

// Assign keeps the foci contained in cell, labels them sequentially from
// nextLabel and returns them with the cell's metrics and the next free label.
func Assign(cell *objects.Object3D, foci *objects.Population, nextLabel int) (*objects.Population, CellMetrics, int) {
	kept := Contained(cell, foci)
	for _, f := range kept.Objects() {
		f.Label = nextLabel
		nextLabel++
	}
	return kept, CellMetrics{FociCount: kept.Len(), FociVolume: kept.TotalVolume()}, nextLabel
}

// Collector accumulates assignments over every cell of one image.
// It is not safe for concurrent use; give each image its own Collector.
type Collector struct {
	// All holds every retained focus of the image
	All *objects.Population

	// NextLabel is the label the next retained focus will get
	NextLabel int

	metrics map[*objects.Object3D]CellMetrics
}

// NewCollector starts foci labels at firstLabel
func NewCollector(cal models.Calibration, firstLabel int) *Collector {
	return &Collector{
		All:       objects.NewPopulation(cal),
		NextLabel: firstLabel,
		metrics:   make(map[*objects.Object3D]CellMetrics),
	}
}

// Add assigns foci to cell and records the cell's metrics
func (c *Collector) Add(cell *objects.Object3D, foci *objects.Population) CellMetrics {
	kept, m, next := Assign(cell, foci, c.NextLabel)
	c.NextLabel = next
	for _, f := range kept.Objects() {
		c.All.Add(f)
	}
	c.metrics[cell] = m
	return m
}

// Metrics returns the recorded metrics for cell; a cell without foci reports zero
func (c *Collector) Metrics(cell *objects.Object3D) CellMetrics {
	return c.metrics[cell]
}
