// Package results writes per-cell measurements: the tab-separated results
// table, a SQLite run store and the foci-per-cell histogram.
package results

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TableName is the results table file name inside the results directory
const TableName = "results.xls"

// Header is the column header written once per run
var Header = []string{
	"Image name",
	"Cell label",
	"Cell volume (µm3)",
	"Oxytocin receptor foci number",
	"Oxytocin receptor foci total volume (µm3)",
}

// Row is one final cell of one image
type Row struct {
	Image      string
	CellLabel  int
	CellVolume float64
	FociCount  int
	FociVolume float64
}

func (r Row) fields() []string {
	return []string{
		r.Image,
		strconv.Itoa(r.CellLabel),
		formatFloat(r.CellVolume),
		strconv.Itoa(r.FociCount),
		formatFloat(r.FociVolume),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Table appends rows to a tab-separated file and flushes after every row
type Table struct {
	path string
	file *os.File
	w    *bufio.Writer
	rows int
}

// CreateTable creates dir if needed and starts a new table with its header
func CreateTable(dir string) (*Table, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating results directory: %w", err)
	}
	path := filepath.Join(dir, TableName)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating results table: %w", err)
	}
	t := &Table{path: path, file: f, w: bufio.NewWriter(f)}
	if err := t.writeLine(Header); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// Path returns the table's file path
func (t *Table) Path() string { return t.path }

// Rows returns the number of data rows written
func (t *Table) Rows() int { return t.rows }

// Write appends one row
func (t *Table) Write(r Row) error {
	if err := t.writeLine(r.fields()); err != nil {
		return err
	}
	t.rows++
	return nil
}

func (t *Table) writeLine(fields []string) error {
	if _, err := t.w.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
		return fmt.Errorf("error writing results table: %w", err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("error flushing results table: %w", err)
	}
	return nil
}

// Close flushes and closes the file
func (t *Table) Close() error {
	if err := t.w.Flush(); err != nil {
		t.file.Close()
		return err
	}
	return t.file.Close()
}
