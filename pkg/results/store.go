package results

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// StoreName is the SQLite database file name inside the results directory
const StoreName = "results.db"

// schema.sql holds the run, image, cell and focus tables.
//
//go:embed schema.sql
var schemaSQL string

// Store persists every run's measurements in SQLite
type Store struct {
	*sql.DB
}

// Focus is one retained focus and the cell it was assigned to
type Focus struct {
	Label     int
	CellLabel int
	Voxels    int
	Volume    float64
	X, Y, Z   float64
}

// ImageSummary is the per-image outcome recorded alongside the cell rows
type ImageSummary struct {
	Image  string
	Nuclei int
	Cells  int
	Foci   int
	Err    error
}

// OpenStore opens (or creates) the database and applies the schema
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply results schema: %w", err)
	}
	return &Store{db}, nil
}

// StartRun records a new run and returns its id
func (s *Store) StartRun(inputDir, policy string) (string, error) {
	runID := uuid.New().String()
	_, err := s.Exec(`INSERT INTO runs (run_id, input_dir, coloc_policy, started_at) VALUES (?, ?, ?, ?)`,
		runID, inputDir, policy, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the run's end time and totals
func (s *Store) FinishRun(runID string, images, failures int) error {
	_, err := s.Exec(`UPDATE runs SET finished_at = ?, images = ?, failures = ? WHERE run_id = ?`,
		time.Now().UnixNano(), images, failures, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// RecordImage stores one image's rows in a single transaction
func (s *Store) RecordImage(runID string, summary ImageSummary, rows []Row, foci []Focus) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var errText interface{}
	if summary.Err != nil {
		errText = summary.Err.Error()
	}
	if _, err := tx.Exec(`INSERT INTO images (run_id, image_name, nuclei, cells, foci, error) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, summary.Image, summary.Nuclei, summary.Cells, summary.Foci, errText); err != nil {
		return fmt.Errorf("failed to insert image %s: %w", summary.Image, err)
	}

	for _, r := range rows {
		if _, err := tx.Exec(`INSERT INTO cells (run_id, image_name, cell_label, cell_volume, foci_count, foci_volume) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, r.Image, r.CellLabel, r.CellVolume, r.FociCount, r.FociVolume); err != nil {
			return fmt.Errorf("failed to insert cell %d: %w", r.CellLabel, err)
		}
	}
	for _, f := range foci {
		if _, err := tx.Exec(`INSERT INTO foci (run_id, image_name, focus_label, cell_label, voxels, volume, centroid_x, centroid_y, centroid_z) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, summary.Image, f.Label, f.CellLabel, f.Voxels, f.Volume, f.X, f.Y, f.Z); err != nil {
			return fmt.Errorf("failed to insert focus %d: %w", f.Label, err)
		}
	}
	return tx.Commit()
}

// Rows returns the cell rows of a run ordered by image and cell label
func (s *Store) Rows(runID string) ([]Row, error) {
	rows, err := s.Query(`SELECT image_name, cell_label, cell_volume, foci_count, foci_volume
		FROM cells WHERE run_id = ? ORDER BY image_name, cell_label`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Image, &r.CellLabel, &r.CellVolume, &r.FociCount, &r.FociVolume); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
