package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/pixelmatch/internal/match"
)

func TestParse_Empty(t *testing.T) {
	opts, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, match.DefaultOptions(), opts)
}

func TestParse_YAML(t *testing.T) {
	data := []byte(`
threshold: 0.25
includeAA: true
aaColor: "#00ff00"
diffColor: [0, 0, 255]
diffMask: true
`)
	opts, err := Parse(data)
	require.NoError(t, err)

	want := match.DefaultOptions()
	want.Threshold = 0.25
	want.IncludeAA = true
	want.AAColor = match.RGB{0, 255, 0}
	want.DiffColor = match.RGB{0, 0, 255}
	want.DiffMask = true
	assert.Equal(t, want, opts)
}

func TestParse_JSON(t *testing.T) {
	opts, err := Parse([]byte(`{"alpha": 0.5, "diffColor": "#FF8000"}`))
	require.NoError(t, err)
	assert.Equal(t, 0.5, opts.Alpha)
	assert.Equal(t, match.RGB{255, 128, 0}, opts.DiffColor)
	assert.Equal(t, match.DefaultOptions().Threshold, opts.Threshold)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field bool
	}{
		{"unknown field", "thresh: 0.2", true},
		{"bad hex", `aaColor: "#zzzzzz"`, true},
		{"short array", "aaColor: [1, 2]", true},
		{"component range", "diffColor: [0, 300, 0]", true},
		{"color mapping", "diffColor: {r: 1}", true},
		{"wrong type", "includeAA: maybe", true},
		{"syntax", "threshold: [", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			var fe *FieldError
			assert.Equal(t, tt.field, errors.As(err, &fe), "error: %v", err)
		})
	}
}

func TestParse_InvalidOption(t *testing.T) {
	_, err := Parse([]byte("threshold: 1.5"))
	assert.ErrorIs(t, err, match.ErrInvalidOption)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 0.05\n"), 0644))

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.05, opts.Threshold)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#102030")
	require.NoError(t, err)
	assert.Equal(t, Color{0x10, 0x20, 0x30}, c)

	_, err = ParseColor("red")
	assert.Error(t, err)
}
