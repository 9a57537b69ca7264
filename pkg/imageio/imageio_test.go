package imageio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrofoci/internal/models"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0644))
	}
}

func TestFindImageType(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.czi", "notes.txt", "b.nd2")
	ext, err := FindImageType(dir)
	require.NoError(t, err)
	assert.Equal(t, "nd2", ext, "last whitelisted type in directory order wins")

	empty := t.TempDir()
	touch(t, empty, "readme.md")
	_, err = FindImageType(empty)
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = FindImageType(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFindImages(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.vol", "a.vol", ".hidden.vol", "c.raw")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.vol"), 0755))

	images, err := FindImages(dir, "vol")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.vol"), filepath.Join(dir, "b.vol")}, images)

	_, err = FindImages(dir, "lif")
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "slice_01", BaseName("/data/in/slice_01.vol"))
}

func gray(w, h, d int, cal models.Calibration, offset float64) *models.Gray {
	g := models.NewGray(w, h, d, cal)
	for i := range g.Data {
		g.Data[i] = offset + float64(i)
	}
	return g
}

func TestCreateOpenReadChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.vol")
	cal := models.Calibration{PixelWidth: 0.2, PixelHeight: 0.2, PixelDepth: 0.5}
	chans := []*models.Gray{gray(4, 3, 2, cal, 0), gray(4, 3, 2, cal, 100), gray(4, 3, 2, cal, 1000)}
	require.NoError(t, Create(path, []string{"DAPI", "", "GFAP"}, chans))

	img, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"DAPI", "1", "GFAP", NoneChannel}, img.Channels())

	idx, err := img.ChannelIndex("GFAP")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	idx, err = img.ChannelIndex("1")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	_, err = img.ChannelIndex(NoneChannel)
	assert.ErrorIs(t, err, ErrChannelNotFound)

	got := img.Calibration()
	assert.Equal(t, 0.2, got.PixelHeight)
	assert.Equal(t, "microns", got.Unit)

	ch, err := img.ReadChannel(1)
	require.NoError(t, err)
	assert.Equal(t, chans[1].Data, ch.Data)
	assert.Equal(t, 4, ch.Width)
	assert.Equal(t, 0.5, ch.Cal.PixelDepth)

	_, err = img.ReadChannel(3)
	assert.Error(t, err)
}

func TestCalibrationDefaultsDepth(t *testing.T) {
	img := &Image{Header: Header{Calibration: models.Calibration{PixelWidth: 0.3}}}
	cal := img.Calibration()
	assert.Equal(t, 1.0, cal.PixelDepth)
	assert.Equal(t, 0.3, cal.PixelHeight)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "x.czi"))
	assert.Error(t, err)

	_, err = Open(filepath.Join(dir, "missing.vol"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.vol")
	require.NoError(t, os.WriteFile(bad, []byte("width: 4\nheight: 4\ndepth: 1\nchannels: 1\nbitDepth: 12\ndata: bad.raw\n"), 0644))
	_, err = Open(bad)
	assert.Error(t, err)

	short := filepath.Join(dir, "short.vol")
	require.NoError(t, os.WriteFile(short, []byte("width: 4\nheight: 4\ndepth: 1\nchannels: 1\nbitDepth: 8\ndata: short.raw\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.raw"), []byte{1, 2, 3}, 0644))
	img, err := Open(short)
	require.NoError(t, err)
	_, err = img.ReadChannel(0)
	assert.Error(t, err, "truncated data")
}

func TestRead8Bit(t *testing.T) {
	dir := t.TempDir()
	hdr := "width: 2\nheight: 1\ndepth: 1\nchannels: 2\nbitDepth: 8\ndata: eight.raw\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eight.vol"), []byte(hdr), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eight.raw"), []byte{1, 2, 250, 251}, 0644))

	img, err := Open(filepath.Join(dir, "eight.vol"))
	require.NoError(t, err)
	ch, err := img.ReadChannel(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{250, 251}, ch.Data)
}
