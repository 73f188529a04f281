// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides configuration loading for the decoder.
//
// Decoding profiles (beams, active-state bounds, worker counts) are
// loaded from YAML. A conservative default profile is embedded so the
// CLI works with no configuration file at all.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use; a loaded
//	Config is immutable.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"

	_ "embed"
)

// MaxYAMLFileSize is the maximum allowed configuration file size (1MB).
// Prevents memory issues from accidental large files.
const MaxYAMLFileSize = 1024 * 1024

// Sentinel errors for configuration loading.
var (
	ErrFileTooLarge = errors.New("configuration file exceeds size limit")
	ErrInvalidField = errors.New("configuration failed validation")
)

//go:embed decoder.yaml
var defaultConfigYAML []byte

var (
	configLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoder_config_loads_total",
		Help: "Total decoder configuration loads by source and outcome",
	}, []string{"source", "outcome"})
)

// Config is one decoding profile.
//
// The beams are in log-likelihood units. MinActive and MaxActive are
// soft per-sequence bounds on the active-state count; Workers sizes
// the kernel worker pool (0 means the compute default).
type Config struct {
	SearchBeam float32 `yaml:"search_beam" validate:"gt=0"`
	OutputBeam float32 `yaml:"output_beam" validate:"gt=0"`
	MinActive  int32   `yaml:"min_active" validate:"gte=0"`
	MaxActive  int32   `yaml:"max_active" validate:"gtfield=MinActive"`
	Workers    int     `yaml:"workers" validate:"gte=0"`
}

var validate = validator.New()

// Default returns the embedded default profile.
func Default() Config {
	cfg, err := parse(defaultConfigYAML)
	if err != nil {
		// The embedded profile is compiled in; failing to parse it is
		// a build defect.
		panic(fmt.Sprintf("embedded decoder.yaml invalid: %v", err))
	}
	configLoads.WithLabelValues("embedded", "ok").Inc()
	return cfg
}

// Load reads and validates a profile from a YAML file.
//
// Outputs:
//   - Config: the validated profile.
//   - error: non-nil on I/O failure, oversized file, YAML errors, or
//     validation failure (wrapped ErrInvalidField).
func Load(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		configLoads.WithLabelValues("file", "stat_error").Inc()
		return Config{}, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		configLoads.WithLabelValues("file", "too_large").Inc()
		return Config{}, fmt.Errorf("%s is %d bytes: %w", path, info.Size(), ErrFileTooLarge)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		configLoads.WithLabelValues("file", "read_error").Inc()
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := parse(raw)
	if err != nil {
		configLoads.WithLabelValues("file", "invalid").Inc()
		return Config{}, err
	}
	configLoads.WithLabelValues("file", "ok").Inc()
	slog.Debug("decoder config loaded",
		slog.String("path", path),
		slog.Any("search_beam", cfg.SearchBeam),
		slog.Any("output_beam", cfg.OutputBeam))
	return cfg, nil
}

func parse(raw []byte) (Config, error) {
	cfg := Config{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return cfg, nil
}
