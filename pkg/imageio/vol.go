package imageio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"astrofoci/internal/models"
)

// VolExtension is the extension of the YAML volume header read by Open
const VolExtension = "vol"

// NoneChannel is appended to the channel list so a role can be left unassigned
const NoneChannel = "None"

// ErrChannelNotFound is returned when a channel name is not in the image
var ErrChannelNotFound = errors.New("channel not found")

// Header describes a raw multi-channel volume. Voxels are stored
// channel-major: channel, then Z, then Y, then X.
type Header struct {
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	Depth    int `yaml:"depth"`
	Channels int `yaml:"channels"`

	// BitDepth is 8 or 16; 16-bit data is little-endian
	BitDepth int `yaml:"bitDepth"`

	ChannelNames []string `yaml:"channelNames,omitempty"`

	// Calibration in microns. A zero pixelDepth means 1.
	Calibration models.Calibration `yaml:"calibration"`

	// Data is the raw file, relative to the header
	Data string `yaml:"data"`
}

func (h *Header) validate() error {
	if h.Width <= 0 || h.Height <= 0 || h.Depth <= 0 || h.Channels <= 0 {
		return fmt.Errorf("invalid dimensions %dx%dx%d with %d channels", h.Width, h.Height, h.Depth, h.Channels)
	}
	if h.BitDepth != 8 && h.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d", h.BitDepth)
	}
	if h.Data == "" {
		return errors.New("header does not name a data file")
	}
	return nil
}

// Image is an opened volume whose channels are read on demand
type Image struct {
	Path   string
	Header Header
}

// Open reads and validates a volume header. Only the .vol format is readable;
// other whitelisted types are reported as unsupported.
func Open(path string) (*Image, error) {
	if ext := filepath.Ext(path); ext != "."+VolExtension {
		return nil, fmt.Errorf("unsupported image format %q for %s", ext, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading image header: %w", err)
	}
	img := &Image{Path: path}
	if err := yaml.Unmarshal(data, &img.Header); err != nil {
		return nil, fmt.Errorf("error parsing image header %s: %w", path, err)
	}
	if err := img.Header.validate(); err != nil {
		return nil, fmt.Errorf("invalid image header %s: %w", path, err)
	}
	return img, nil
}

// Channels lists the channel names, falling back to the channel index when
// the header has none, followed by NoneChannel.
func (img *Image) Channels() []string {
	names := make([]string, 0, img.Header.Channels+1)
	for c := 0; c < img.Header.Channels; c++ {
		if c < len(img.Header.ChannelNames) && img.Header.ChannelNames[c] != "" {
			names = append(names, img.Header.ChannelNames[c])
		} else {
			names = append(names, strconv.Itoa(c))
		}
	}
	return append(names, NoneChannel)
}

// ChannelIndex resolves a channel name (or numeric index) to its index
func (img *Image) ChannelIndex(name string) (int, error) {
	for i, n := range img.Channels()[:img.Header.Channels] {
		if n == name {
			return i, nil
		}
	}
	if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < img.Header.Channels {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %q in %s", ErrChannelNotFound, name, filepath.Base(img.Path))
}

// Calibration returns the voxel size: pixel height mirrors pixel width and a
// missing pixel depth defaults to 1.
func (img *Image) Calibration() models.Calibration {
	cal := img.Header.Calibration
	cal.PixelHeight = cal.PixelWidth
	if cal.PixelDepth == 0 {
		cal.PixelDepth = 1
	}
	if cal.Unit == "" {
		cal.Unit = "microns"
	}
	return cal
}

// ReadChannel loads one channel without touching the others
func (img *Image) ReadChannel(channel int) (*models.Gray, error) {
	h := img.Header
	if channel < 0 || channel >= h.Channels {
		return nil, fmt.Errorf("channel %d out of range [0,%d)", channel, h.Channels)
	}
	f, err := os.Open(filepath.Join(filepath.Dir(img.Path), h.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to open volume data: %w", err)
	}
	defer f.Close()

	bytesPerVoxel := h.BitDepth / 8
	n := h.Width * h.Height * h.Depth
	section := io.NewSectionReader(f, int64(channel)*int64(n*bytesPerVoxel), int64(n*bytesPerVoxel))
	buf := make([]byte, n*bytesPerVoxel)
	if _, err := io.ReadFull(section, buf); err != nil {
		return nil, fmt.Errorf("failed to read channel %d: %w", channel, err)
	}

	g := models.NewGray(h.Width, h.Height, h.Depth, img.Calibration())
	for i := range g.Data {
		if bytesPerVoxel == 2 {
			g.Data[i] = float64(binary.LittleEndian.Uint16(buf[2*i:]))
		} else {
			g.Data[i] = float64(buf[i])
		}
	}
	return g, nil
}

// Create writes a 16-bit volume: the header at path and the voxels next to it
func Create(path string, names []string, channels []*models.Gray) error {
	if len(channels) == 0 {
		return errors.New("no channels to write")
	}
	first := channels[0]
	h := Header{
		Width:        first.Width,
		Height:       first.Height,
		Depth:        first.Depth,
		Channels:     len(channels),
		BitDepth:     16,
		ChannelNames: names,
		Calibration:  first.Cal,
		Data:         BaseName(path) + ".raw",
	}

	raw, err := os.Create(filepath.Join(filepath.Dir(path), h.Data))
	if err != nil {
		return fmt.Errorf("error creating volume data: %w", err)
	}
	defer raw.Close()
	buf := make([]byte, 2*first.Width*first.Height*first.Depth)
	for c, g := range channels {
		if g.Width != h.Width || g.Height != h.Height || g.Depth != h.Depth {
			return fmt.Errorf("channel %d is %dx%dx%d, want %dx%dx%d", c, g.Width, g.Height, g.Depth, h.Width, h.Height, h.Depth)
		}
		for i, v := range g.Data {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(math.Max(0, math.Min(65535, math.Round(v)))))
		}
		if _, err := raw.Write(buf); err != nil {
			return fmt.Errorf("error writing channel %d: %w", c, err)
		}
	}

	data, err := yaml.Marshal(&h)
	if err != nil {
		return fmt.Errorf("error marshaling header: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	return raw.Close()
}
