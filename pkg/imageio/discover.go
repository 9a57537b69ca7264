// Package imageio finds input images and reads calibrated multi-channel
// volumes one channel at a time.
package imageio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions is the whitelist of image types recognised in an input directory
var Extensions = []string{"nd", "nd2", "czi", "lif", "ics", "ics2", "tif", "tiff", VolExtension}

// ErrNoImages is returned when an input directory holds no usable image
var ErrNoImages = errors.New("no images found")

// FindImageType returns the whitelisted extension found in dir. When several
// types are present the last one in directory order wins.
func FindImageType(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read input directory: %w", err)
	}
	ext := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		candidate := strings.TrimPrefix(filepath.Ext(e.Name()), ".")
		for _, known := range Extensions {
			if candidate == known {
				ext = candidate
			}
		}
	}
	if ext == "" {
		return "", fmt.Errorf("%w in %s", ErrNoImages, dir)
	}
	return ext, nil
}

// FindImages lists the files of dir with extension ext, skipping hidden files,
// sorted by path.
func FindImages(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	var images []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.TrimPrefix(filepath.Ext(name), ".") == ext {
			images = append(images, filepath.Join(dir, name))
		}
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w with %s extension in %s", ErrNoImages, ext, dir)
	}
	sort.Strings(images)
	return images, nil
}

// BaseName strips directory and extension from an image path
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
