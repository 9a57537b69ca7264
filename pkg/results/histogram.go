package results

import (
	"errors"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// HistogramName is the histogram file name inside the results directory
const HistogramName = "foci_per_cell.png"

// WriteHistogram plots the distribution of foci counts per cell as a PNG
func WriteHistogram(path string, counts []int) error {
	if len(counts) == 0 {
		return errors.New("no cells to plot")
	}

	values := make(plotter.Values, len(counts))
	maxCount := 0
	for i, c := range counts {
		values[i] = float64(c)
		if c > maxCount {
			maxCount = c
		}
	}

	p := plot.New()
	p.Title.Text = "Oxytocin receptor foci per astrocyte"
	p.X.Label.Text = "Foci per cell"
	p.Y.Label.Text = "Cells"

	bins := maxCount + 1
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	hist.LineStyle.Width = vg.Points(1)
	p.Add(hist)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save histogram %s: %w", path, err)
	}
	return nil
}
