package segment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"astrofoci/internal/models"
)

const (
	cellsPath = "/cells"
	fociPath  = "/foci"
)

// Remote calls a segmentation service over HTTP. Volumes travel as base64
// little-endian uint16 voxels, labels come back as base64 little-endian int32.
type Remote struct {
	// Endpoint is the service base URL, e.g. http://gpu-host:8080
	Endpoint string

	// Model names the foci model the service should load
	Model string

	Client *http.Client
}

// NewRemote returns a client for the service at endpoint
func NewRemote(endpoint, model string) *Remote {
	return &Remote{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		Client:   http.DefaultClient,
	}
}

type volumeRequest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Depth  int    `json:"depth"`
	Data   string `json:"data"`
	Model  string `json:"model,omitempty"`

	Cells *CellParams `json:"cells,omitempty"`
	Foci  *FociParams `json:"foci,omitempty"`
}

type labelResponse struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Depth  int     `json:"depth"`
	Labels string  `json:"labels"`
	Scale  float64 `json:"scale"`
	Error  string  `json:"error,omitempty"`
}

// DetectCells implements CellDetector
func (r *Remote) DetectCells(ctx context.Context, vol *models.Gray, p CellParams) (*models.Labels, error) {
	req := newVolumeRequest(vol)
	req.Cells = &p
	resp, err := r.post(ctx, cellsPath, req)
	if err != nil {
		return nil, err
	}
	labels, err := resp.decode()
	if err != nil {
		return nil, err
	}
	if labels.Width != vol.Width || labels.Height != vol.Height || labels.Depth != vol.Depth {
		return nil, fmt.Errorf("cell service returned %dx%dx%d labels for a %dx%dx%d volume",
			labels.Width, labels.Height, labels.Depth, vol.Width, vol.Height, vol.Depth)
	}
	return labels, nil
}

// DetectFoci implements FociDetector
func (r *Remote) DetectFoci(ctx context.Context, crop *models.Gray, p FociParams) (*FociMask, error) {
	req := newVolumeRequest(crop)
	req.Foci = &p
	req.Model = r.Model
	resp, err := r.post(ctx, fociPath, req)
	if err != nil {
		return nil, err
	}
	labels, err := resp.decode()
	if err != nil {
		return nil, err
	}
	scale := resp.Scale
	if scale == 0 {
		scale = 1
	}
	return &FociMask{Labels: labels, Scale: scale}, nil
}

func newVolumeRequest(g *models.Gray) *volumeRequest {
	buf := make([]byte, 2*len(g.Data))
	for i, v := range g.Data {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(math.Max(0, math.Min(65535, math.Round(v)))))
	}
	return &volumeRequest{
		Width:  g.Width,
		Height: g.Height,
		Depth:  g.Depth,
		Data:   base64.StdEncoding.EncodeToString(buf),
	}
}

func (r *Remote) post(ctx context.Context, path string, body *volumeRequest) (*labelResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segmentation service %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	var out labelResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("segmentation service %s returned %s: %w", path, resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segmentation service %s returned %s: %s", path, resp.Status, out.Error)
	}
	return &out, nil
}

func (l *labelResponse) decode() (*models.Labels, error) {
	raw, err := base64.StdEncoding.DecodeString(l.Labels)
	if err != nil {
		return nil, fmt.Errorf("invalid label payload: %w", err)
	}
	n := l.Width * l.Height * l.Depth
	if n <= 0 || len(raw) != 4*n {
		return nil, fmt.Errorf("label payload has %d bytes, want %d", len(raw), 4*n)
	}
	out := models.NewLabels(l.Width, l.Height, l.Depth)
	for i := range out.Data {
		out.Data[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}
