// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decoder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

// The embedded profile must always parse and validate.
func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Positive(t, cfg.SearchBeam)
	assert.Positive(t, cfg.OutputBeam)
	assert.GreaterOrEqual(t, cfg.MinActive, int32(0))
	assert.Greater(t, cfg.MaxActive, cfg.MinActive)
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
search_beam: 15.0
output_beam: 7.0
min_active: 20
max_active: 5000
workers: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, float32(15), cfg.SearchBeam)
	assert.Equal(t, float32(7), cfg.OutputBeam)
	assert.Equal(t, int32(20), cfg.MinActive)
	assert.Equal(t, int32(5000), cfg.MaxActive)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero search beam", "search_beam: 0\noutput_beam: 5\nmin_active: 0\nmax_active: 10\n"},
		{"negative output beam", "search_beam: 10\noutput_beam: -1\nmin_active: 0\nmax_active: 10\n"},
		{"min not below max", "search_beam: 10\noutput_beam: 5\nmin_active: 10\nmax_active: 10\n"},
		{"malformed yaml", "search_beam: [oops\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
