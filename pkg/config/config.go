// Package config provides configuration loading and management for astrofoci.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"astrofoci/pkg/coloc"
)

// VolumeRange is an inclusive physical volume range in µm³
type VolumeRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Detection holds the segmentation settings for nuclei or cells
type Detection struct {
	// Diameter is the expected object diameter in pixels
	Diameter float64 `yaml:"diameter"`

	// StitchThreshold joins 2D masks on adjacent planes into 3D objects
	StitchThreshold float64 `yaml:"stitchThreshold"`

	Volume VolumeRange `yaml:"volume"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Channel roles, by channel name or index
	Channels struct {
		Nuclei string `yaml:"nuclei"`
		Foci   string `yaml:"foci"`
		Cells  string `yaml:"cells"`
	} `yaml:"channels"`

	Nuclei Detection `yaml:"nuclei"`
	Cells  Detection `yaml:"cells"`

	// Foci detection inside each cell
	Foci struct {
		PercentileLow    float64     `yaml:"percentileLow"`
		PercentileHigh   float64     `yaml:"percentileHigh"`
		ProbThreshold    float64     `yaml:"probThreshold"`
		OverlapThreshold float64     `yaml:"overlapThreshold"`
		Volume           VolumeRange `yaml:"volume"`

		// MedianMode is "box3d" or "planar"
		MedianMode     string  `yaml:"medianMode"`
		MedianRadiusXY float64 `yaml:"medianRadiusXY"`
		MedianRadiusZ  float64 `yaml:"medianRadiusZ"`

		// Model is the detector model file expected in ModelsDir
		Model     string `yaml:"model"`
		ModelsDir string `yaml:"modelsDir"`
	} `yaml:"foci"`

	// Calibration override in microns; zero values keep the image's own
	Calibration struct {
		PixelWidth float64 `yaml:"pixelWidth"`
		PixelDepth float64 `yaml:"pixelDepth"`
	} `yaml:"calibration"`

	Coloc struct {
		AcceptFraction float64 `yaml:"acceptFraction"`

		// Policy is first, unique or legacy
		Policy string `yaml:"policy"`
	} `yaml:"coloc"`

	Detector struct {
		// Kind is builtin or remote
		Kind     string `yaml:"kind"`
		Endpoint string `yaml:"endpoint"`

		// Downsample shrinks nuclei and cell channels in-plane before detection
		Downsample int `yaml:"downsample"`

		// FociDownsample is used by the builtin foci detector
		FociDownsample int `yaml:"fociDownsample"`
	} `yaml:"detector"`

	Output struct {
		// Dir is the results directory; empty means <input>/Results
		Dir       string `yaml:"dir"`
		SQLite    bool   `yaml:"sqlite"`
		Overlay   bool   `yaml:"overlay"`
		Histogram bool   `yaml:"histogram"`
		Verbose   bool   `yaml:"verbose"`

		// Slices writes every overlay plane along x, y and z as PNG files
		Slices bool `yaml:"slices"`
	} `yaml:"output"`

	Processing struct {
		// ContinueOnError isolates per-image failures instead of aborting the batch
		ContinueOnError bool `yaml:"continueOnError"`
	} `yaml:"processing"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Channels.Nuclei = "0"
	cfg.Channels.Foci = "1"
	cfg.Channels.Cells = "2"

	cfg.Nuclei = Detection{Diameter: 45, StitchThreshold: 0.5, Volume: VolumeRange{Min: 50, Max: 2000}}
	cfg.Cells = Detection{Diameter: 60, StitchThreshold: 0.5, Volume: VolumeRange{Min: 50, Max: 4000}}

	cfg.Foci.PercentileLow = 0.2
	cfg.Foci.PercentileHigh = 99.8
	cfg.Foci.ProbThreshold = 0.2
	cfg.Foci.OverlapThreshold = 0.25
	cfg.Foci.Volume = VolumeRange{Min: 0.02, Max: 10}
	cfg.Foci.MedianMode = "box3d"
	cfg.Foci.MedianRadiusXY = 1
	cfg.Foci.MedianRadiusZ = 1
	cfg.Foci.Model = "fociRNA-1.2.zip"
	cfg.Foci.ModelsDir = "models"

	cfg.Coloc.AcceptFraction = coloc.DefaultAcceptFraction
	cfg.Coloc.Policy = coloc.PolicyFirst.String()

	cfg.Detector.Kind = "builtin"
	cfg.Detector.Downsample = 2
	cfg.Detector.FociDownsample = 1

	cfg.Output.SQLite = true
	cfg.Output.Overlay = true
	cfg.Output.Histogram = true
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks ranges and names
func (c *Config) Validate() error {
	var errs []error
	for name, r := range map[string]VolumeRange{"nuclei": c.Nuclei.Volume, "cells": c.Cells.Volume, "foci": c.Foci.Volume} {
		if r.Min < 0 || r.Min > r.Max {
			errs = append(errs, fmt.Errorf("%s volume range [%g, %g] is invalid", name, r.Min, r.Max))
		}
	}
	if c.Calibration.PixelWidth < 0 || c.Calibration.PixelDepth < 0 {
		errs = append(errs, errors.New("calibration override must not be negative"))
	}
	if c.Coloc.AcceptFraction < 0 || c.Coloc.AcceptFraction > 1 {
		errs = append(errs, fmt.Errorf("coloc acceptFraction %g outside [0, 1]", c.Coloc.AcceptFraction))
	}
	if _, err := coloc.ParsePolicy(c.Coloc.Policy); err != nil {
		errs = append(errs, err)
	}
	switch c.Detector.Kind {
	case "builtin", "":
	case "remote":
		if c.Detector.Endpoint == "" {
			errs = append(errs, errors.New("remote detector needs an endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown detector kind %q", c.Detector.Kind))
	}
	if c.Detector.Downsample < 1 || c.Detector.FociDownsample < 1 {
		errs = append(errs, errors.New("downsample factors must be at least 1"))
	}
	if c.Foci.PercentileLow < 0 || c.Foci.PercentileHigh > 100 || c.Foci.PercentileLow >= c.Foci.PercentileHigh {
		errs = append(errs, fmt.Errorf("foci percentiles %g..%g are invalid", c.Foci.PercentileLow, c.Foci.PercentileHigh))
	}
	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
