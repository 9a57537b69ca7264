// Package segment defines the capability contracts of the external
// segmentation services and ships two implementations: a deterministic
// threshold detector that runs in-process and an HTTP client for a remote
// GPU service.
package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"astrofoci/internal/models"
)

// CellParams configures nuclei and cell instance segmentation
type CellParams struct {
	// Diameter is the expected object diameter in pixels
	Diameter float64 `json:"diameter"`

	// StitchThreshold is the minimum overlap (IoU) for 2D masks on adjacent
	// planes to be joined into one 3D object
	StitchThreshold float64 `json:"stitchThreshold"`
}

// FociParams configures foci detection inside a cell crop
type FociParams struct {
	PercentileLow    float64 `json:"percentileLow"`
	PercentileHigh   float64 `json:"percentileHigh"`
	ProbThreshold    float64 `json:"probThreshold"`
	OverlapThreshold float64 `json:"overlapThreshold"`
}

// FociMask is a labeled foci mask that may be at reduced resolution
type FociMask struct {
	Labels *models.Labels

	// Scale is the factor that maps the mask back to the input's native
	// in-plane resolution (1 when the detector ran at full resolution)
	Scale float64
}

// CellDetector turns a grayscale volume into a labeled mask of the same size
type CellDetector interface {
	DetectCells(ctx context.Context, vol *models.Gray, p CellParams) (*models.Labels, error)
}

// FociDetector turns a grayscale crop into a labeled foci mask
type FociDetector interface {
	DetectFoci(ctx context.Context, crop *models.Gray, p FociParams) (*FociMask, error)
}

// ErrModelMissing reports that a detector model file is not installed
var ErrModelMissing = errors.New("detector model not found")

// CheckModel verifies that the model file name exists in dir
func CheckModel(dir, name string) error {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s, please add it to %s", ErrModelMissing, name, dir)
		}
		return fmt.Errorf("error checking model %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelMissing, path)
	}
	return nil
}
