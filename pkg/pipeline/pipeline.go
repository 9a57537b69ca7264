// Package pipeline runs the astrocyte foci analysis over a directory of
// images: nuclei and cell detection, colocalization, per-cell foci detection,
// aggregation and result writing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"astrofoci/internal/monitoring"
	"astrofoci/pkg/coloc"
	"astrofoci/pkg/config"
	"astrofoci/pkg/denoise"
	"astrofoci/pkg/imageio"
	"astrofoci/pkg/results"
	"astrofoci/pkg/segment"
	"astrofoci/pkg/subdetect"
)

// Params holds the run inputs
type Params struct {
	// InputDir is the directory holding the images to analyse
	InputDir string

	// Extension restricts the run to one image type; empty means detect it
	Extension string

	// OutputDir receives the results table, overlays and database.
	// Empty means <InputDir>/Results.
	OutputDir string

	Config *config.Config
}

// Summary is the outcome of a whole run
type Summary struct {
	RunID           string
	Images          int
	Failures        int
	Cells           int
	Foci            int
	MeanFociPerCell float64

	// TablePath and TableRows describe the results table
	TablePath string
	TableRows int

	// StoredRows is the number of cell rows read back from the run store
	StoredRows int
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d images (%d failed), %d cells, %d foci, %.2f foci per cell",
		s.Images, s.Failures, s.Cells, s.Foci, s.MeanFociPerCell)
}

// Pipeline sequences the analysis of every image of a run. Images are
// processed one at a time and each gets its own id and label counters.
type Pipeline struct {
	params  *Params
	cfg     *config.Config
	cells   segment.CellDetector
	matcher *coloc.Matcher
	sub     *subdetect.Detector

	outputDir string
	table     *results.Table
	store     *results.Store
	runID     string

	fociPerCell []float64
	summary     Summary
}

// New wires the detectors into a pipeline for params
func New(params *Params, cells segment.CellDetector, foci segment.FociDetector) (*Pipeline, error) {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	policy, err := coloc.ParsePolicy(cfg.Coloc.Policy)
	if err != nil {
		return nil, err
	}
	matcher := coloc.NewMatcher(policy)
	matcher.AcceptFraction = cfg.Coloc.AcceptFraction

	median, err := denoise.New(cfg.Foci.MedianMode, cfg.Foci.MedianRadiusXY, cfg.Foci.MedianRadiusZ)
	if err != nil {
		return nil, err
	}
	sub := subdetect.New(foci, median, subdetect.Params{
		Foci: segment.FociParams{
			PercentileLow:    cfg.Foci.PercentileLow,
			PercentileHigh:   cfg.Foci.PercentileHigh,
			ProbThreshold:    cfg.Foci.ProbThreshold,
			OverlapThreshold: cfg.Foci.OverlapThreshold,
		},
		VolMin: cfg.Foci.Volume.Min,
		VolMax: cfg.Foci.Volume.Max,
	})

	outputDir := params.OutputDir
	if outputDir == "" {
		outputDir = cfg.Output.Dir
	}
	if outputDir == "" {
		outputDir = filepath.Join(params.InputDir, "Results")
	}

	return &Pipeline{
		params:    params,
		cfg:       cfg,
		cells:     cells,
		matcher:   matcher,
		sub:       sub,
		outputDir: outputDir,
	}, nil
}

// OutputDir returns where results are written
func (p *Pipeline) OutputDir() string { return p.outputDir }

// NewDetectors builds the detector pair selected by the configuration. The
// remote detector needs its foci model installed before anything runs.
func NewDetectors(cfg *config.Config) (segment.CellDetector, segment.FociDetector, error) {
	switch cfg.Detector.Kind {
	case "remote":
		if err := segment.CheckModel(cfg.Foci.ModelsDir, cfg.Foci.Model); err != nil {
			return nil, nil, err
		}
		r := segment.NewRemote(cfg.Detector.Endpoint, cfg.Foci.Model)
		return r, r, nil
	case "builtin", "":
		t := segment.NewThreshold()
		t.FociDownsample = cfg.Detector.FociDownsample
		return t, t, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector kind %q", cfg.Detector.Kind)
	}
}

// Run analyses every image of the input directory
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	ext := p.params.Extension
	if ext == "" {
		var err error
		if ext, err = imageio.FindImageType(p.params.InputDir); err != nil {
			return nil, err
		}
	}
	images, err := imageio.FindImages(p.params.InputDir, ext)
	if err != nil {
		return nil, err
	}
	p.printf("%d images with %s extension found in %s\n", len(images), ext, p.params.InputDir)

	if err := p.openSinks(); err != nil {
		return nil, err
	}
	defer p.closeSinks()

	for _, path := range images {
		if err := ctx.Err(); err != nil {
			return &p.summary, err
		}
		p.summary.Images++

		res, err := p.ProcessImage(ctx, path)
		if err != nil {
			p.summary.Failures++
			if p.store != nil {
				summary := results.ImageSummary{Image: imageio.BaseName(path), Err: err}
				if serr := p.store.RecordImage(p.runID, summary, nil, nil); serr != nil {
					monitoring.Logf("failed to record failure of %s: %v", path, serr)
				}
			}
			if !p.cfg.Processing.ContinueOnError {
				return &p.summary, fmt.Errorf("failed to process %s: %w", path, err)
			}
			monitoring.Logf("skipping %s: %v", path, err)
			continue
		}
		if err := p.record(res); err != nil {
			return &p.summary, err
		}
	}

	if err := p.finish(); err != nil {
		return &p.summary, err
	}
	return &p.summary, nil
}

func (p *Pipeline) openSinks() error {
	table, err := results.CreateTable(p.outputDir)
	if err != nil {
		return err
	}
	p.table = table
	p.summary.TablePath = table.Path()

	if p.cfg.Output.SQLite {
		store, err := results.OpenStore(filepath.Join(p.outputDir, results.StoreName))
		if err != nil {
			return err
		}
		p.store = store
		if p.runID, err = store.StartRun(p.params.InputDir, p.matcher.Policy.String()); err != nil {
			return err
		}
		p.summary.RunID = p.runID
	}
	return nil
}

func (p *Pipeline) closeSinks() {
	if p.table != nil {
		if err := p.table.Close(); err != nil {
			monitoring.Logf("failed to close results table: %v", err)
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			monitoring.Logf("failed to close results store: %v", err)
		}
	}
}

// record writes the rows of one image to every sink
func (p *Pipeline) record(res *ImageResult) error {
	for _, row := range res.Rows {
		if err := p.table.Write(row); err != nil {
			return err
		}
		p.fociPerCell = append(p.fociPerCell, float64(row.FociCount))
	}
	p.summary.Cells += len(res.Rows)
	p.summary.TableRows = p.table.Rows()
	p.summary.Foci += res.Foci.Len()

	if p.store == nil {
		return nil
	}
	var foci []results.Focus
	for _, f := range res.Foci.Objects() {
		x, y, z := f.Centroid()
		foci = append(foci, results.Focus{
			Label:     f.Label,
			CellLabel: res.FociCell[f],
			Voxels:    f.Size(),
			Volume:    f.Volume(),
			X:         x,
			Y:         y,
			Z:         z,
		})
	}
	summary := results.ImageSummary{
		Image:  res.Name,
		Nuclei: res.Nuclei.Len(),
		Cells:  len(res.Rows),
		Foci:   res.Foci.Len(),
	}
	return p.store.RecordImage(p.runID, summary, res.Rows, foci)
}

func (p *Pipeline) finish() error {
	var errs []error
	if len(p.fociPerCell) > 0 {
		p.summary.MeanFociPerCell = stat.Mean(p.fociPerCell, nil)
		if p.cfg.Output.Histogram {
			counts := make([]int, len(p.fociPerCell))
			for i, c := range p.fociPerCell {
				counts[i] = int(c)
			}
			if err := results.WriteHistogram(filepath.Join(p.outputDir, results.HistogramName), counts); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if p.store != nil {
		if err := p.store.FinishRun(p.runID, p.summary.Images, p.summary.Failures); err != nil {
			errs = append(errs, err)
		}
		stored, err := p.store.Rows(p.runID)
		if err != nil {
			errs = append(errs, err)
		}
		p.summary.StoredRows = len(stored)
		if err == nil && len(stored) != p.table.Rows() {
			monitoring.Logf("warning: run store holds %d cell rows, results table %d", len(stored), p.table.Rows())
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) printf(format string, args ...interface{}) {
	if p.cfg.Output.Verbose {
		fmt.Printf(format, args...)
	}
}
