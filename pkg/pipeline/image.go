package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"astrofoci/internal/models"
	"astrofoci/internal/monitoring"
	"astrofoci/pkg/aggregate"
	"astrofoci/pkg/coloc"
	"astrofoci/pkg/config"
	"astrofoci/pkg/filter"
	"astrofoci/pkg/imageio"
	"astrofoci/pkg/objects"
	"astrofoci/pkg/results"
	"astrofoci/pkg/segment"
	"astrofoci/pkg/visualization"
)

// ImageResult is everything measured on one image
type ImageResult struct {
	Name string

	// Nuclei and Candidates are the filtered detections of each channel
	Nuclei     *objects.Population
	Candidates *objects.Population

	// Match holds the nucleus-colocalized cells and their nucleus partners
	Match *coloc.Result

	// Foci holds every focus retained in some cell
	Foci *objects.Population

	// FociCell maps every retained focus to the label of its cell
	FociCell map[*objects.Object3D]int

	Metrics *aggregate.Collector
	Rows    []results.Row
}

// ProcessImage analyses one image. Channel volumes are released as soon as
// their step is done.
func (p *Pipeline) ProcessImage(ctx context.Context, path string) (*ImageResult, error) {
	name := imageio.BaseName(path)
	p.printf("Processing %s\n", name)

	// Step 1: Open the image and resolve the channel roles
	p.printf("Step 1: Opening image...\n")
	img, err := imageio.Open(path)
	if err != nil {
		return nil, err
	}
	nucleiCh, err := img.ChannelIndex(p.cfg.Channels.Nuclei)
	if err != nil {
		return nil, err
	}
	fociCh, err := img.ChannelIndex(p.cfg.Channels.Foci)
	if err != nil {
		return nil, err
	}
	cellsCh, err := img.ChannelIndex(p.cfg.Channels.Cells)
	if err != nil {
		return nil, err
	}
	cal := p.calibration(img.Calibration())
	if !cal.Valid() {
		return nil, fmt.Errorf("%w: %s has voxel size %gx%gx%g %s, set calibration in the configuration",
			filter.ErrUncalibrated, name, cal.PixelWidth, cal.PixelHeight, cal.PixelDepth, cal.Unit)
	}
	res := &ImageResult{Name: name, FociCell: make(map[*objects.Object3D]int)}

	// Step 2: Nuclei
	p.printf("Step 2: Detecting nuclei...\n")
	res.Nuclei, err = p.detectChannel(ctx, img, nucleiCh, cal, p.cfg.Nuclei, "nuclei")
	if err != nil {
		return nil, err
	}

	// Step 3: Cells
	p.printf("Step 3: Detecting astrocytes...\n")
	res.Candidates, err = p.detectChannel(ctx, img, cellsCh, cal, p.cfg.Cells, "astrocytes")
	if err != nil {
		return nil, err
	}

	// Step 4: Keep the cells colocalized with a nucleus
	p.printf("Step 4: Colocalizing astrocytes with nuclei...\n")
	res.Match = p.matcher.Match(res.Candidates, res.Nuclei, 1)
	p.printf("%d astrocytes colocalized with a nucleus\n", res.Match.Cells.Len())

	// Step 5: Foci inside every colocalized cell
	p.printf("Step 5: Detecting foci in astrocytes...\n")
	fociVol, err := img.ReadChannel(fociCh)
	if err != nil {
		return nil, err
	}
	fociVol.Cal = cal
	defer fociVol.Release()

	res.Metrics = aggregate.NewCollector(cal, 1)
	for _, cell := range res.Match.Cells.Objects() {
		found, err := p.sub.DetectInCell(ctx, fociVol, cell)
		if err != nil {
			return nil, err
		}
		before := res.Metrics.All.Len()
		m := res.Metrics.Add(cell, found)
		for _, f := range res.Metrics.All.Objects()[before:] {
			res.FociCell[f] = cell.Label
		}
		p.printf("%d foci found in astrocyte %d\n", m.FociCount, cell.Label)

		res.Rows = append(res.Rows, results.Row{
			Image:      name,
			CellLabel:  cell.Label,
			CellVolume: cell.Volume(),
			FociCount:  m.FociCount,
			FociVolume: m.FociVolume,
		})
	}
	res.Foci = res.Metrics.All

	// Step 6: Quality-control overlay
	if p.cfg.Output.Overlay || p.cfg.Output.Slices {
		p.printf("Step 6: Saving overlay...\n")
		overlay := visualization.NewOverlay(fociVol)
		overlay.AddNuclei(res.Nuclei, res.Match.PartnerID)
		overlay.AddCells(res.Match.Cells)
		overlay.AddFoci(res.Foci)
		if p.cfg.Output.Overlay {
			if err := overlay.Save(filepath.Join(p.outputDir, name+".tif")); err != nil {
				monitoring.Logf("warning: failed to save overlay of %s: %v", name, err)
			}
		}
		if p.cfg.Output.Slices {
			if err := overlay.SaveSlices(filepath.Join(p.outputDir, name+"_slices")); err != nil {
				monitoring.Logf("warning: failed to save overlay slices of %s: %v", name, err)
			}
		}
	}
	return res, nil
}

func (p *Pipeline) calibration(cal models.Calibration) models.Calibration {
	if w := p.cfg.Calibration.PixelWidth; w > 0 {
		cal.PixelWidth = w
		cal.PixelHeight = w
	}
	if d := p.cfg.Calibration.PixelDepth; d > 0 {
		cal.PixelDepth = d
	}
	return cal
}

// detectChannel reads one channel, detects its objects and drops the voxels
func (p *Pipeline) detectChannel(ctx context.Context, img *imageio.Image, channel int, cal models.Calibration, det config.Detection, what string) (*objects.Population, error) {
	vol, err := img.ReadChannel(channel)
	if err != nil {
		return nil, err
	}
	vol.Cal = cal
	defer vol.Release()
	return p.detectPopulation(ctx, vol, det, what)
}

// detectPopulation runs the cell detector on a downsampled copy of vol, brings
// the labels back to native resolution and applies the size, border and
// slice-span filters before renumbering the survivors 1..N.
func (p *Pipeline) detectPopulation(ctx context.Context, vol *models.Gray, det config.Detection, what string) (*objects.Population, error) {
	factor := p.cfg.Detector.Downsample
	work := vol
	diameter := det.Diameter
	if factor > 1 {
		w, h := max(1, vol.Width/factor), max(1, vol.Height/factor)
		small, err := vol.ResizeXY(w, h)
		if err != nil {
			return nil, fmt.Errorf("failed to downsample %s channel: %w", what, err)
		}
		defer small.Release()
		work = small
		diameter /= float64(factor)
	}

	labels, err := p.cells.DetectCells(ctx, work, segment.CellParams{Diameter: diameter, StitchThreshold: det.StitchThreshold})
	if err != nil {
		return nil, fmt.Errorf("%s detection failed: %w", what, err)
	}
	if labels.Depth != vol.Depth {
		return nil, fmt.Errorf("%s mask has %d planes, volume has %d", what, labels.Depth, vol.Depth)
	}
	if labels.Width != vol.Width || labels.Height != vol.Height {
		if labels, err = labels.ResizeXY(vol.Width, vol.Height); err != nil {
			return nil, fmt.Errorf("failed to resize %s mask: %w", what, err)
		}
	}

	pop := objects.FromLabels(labels, vol.Cal)
	detected := pop.Len()
	pop, err = filter.Size(pop, det.Volume.Min, det.Volume.Max)
	if err != nil {
		return nil, fmt.Errorf("failed to filter %s: %w", what, err)
	}
	pop = filter.ExcludeBorders(pop, vol.Width, vol.Height)
	pop = filter.ZSpan(pop)
	pop.ResetLabels()
	p.printf("%d %s found (%d detected before filtering)\n", pop.Len(), what, detected)
	return pop, nil
}
