// Package config reads comparison options from YAML or JSON files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/pixelmatch/internal/match"
)

// FieldError reports an option file field that could not be applied.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config field %s: %s", e.Field, e.Reason)
}

// file mirrors match.Options with optional fields so that missing keys keep
// their defaults.
type file struct {
	Threshold *float64 `yaml:"threshold"`
	IncludeAA *bool    `yaml:"includeAA"`
	Alpha     *float64 `yaml:"alpha"`
	AAColor   *Color   `yaml:"aaColor"`
	DiffColor *Color   `yaml:"diffColor"`
	DiffMask  *bool    `yaml:"diffMask"`
}

// Load reads and parses the options file at path.
func Load(path string) (match.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return match.Options{}, fmt.Errorf("failed to read config: %w", err)
	}
	opts, err := Parse(data)
	if err != nil {
		return match.Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// Parse decodes YAML (or JSON) option data on top of match.DefaultOptions.
// Unknown fields are rejected.
func Parse(data []byte) (match.Options, error) {
	opts := match.DefaultOptions()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return opts, nil
		}
		var te *yaml.TypeError
		if errors.As(err, &te) && len(te.Errors) > 0 {
			return match.Options{}, &FieldError{Reason: strings.Join(te.Errors, "; ")}
		}
		return match.Options{}, fmt.Errorf("failed to parse config: %w", err)
	}

	f.apply(&opts)
	if err := opts.Validate(); err != nil {
		return match.Options{}, err
	}
	return opts, nil
}

func (f *file) apply(opts *match.Options) {
	if f.Threshold != nil {
		opts.Threshold = *f.Threshold
	}
	if f.IncludeAA != nil {
		opts.IncludeAA = *f.IncludeAA
	}
	if f.Alpha != nil {
		opts.Alpha = *f.Alpha
	}
	if f.AAColor != nil {
		opts.AAColor = match.RGB(*f.AAColor)
	}
	if f.DiffColor != nil {
		opts.DiffColor = match.RGB(*f.DiffColor)
	}
	if f.DiffMask != nil {
		opts.DiffMask = *f.DiffMask
	}
}

// Color is an RGB triple that unmarshals from "#rrggbb" or [r, g, b].
type Color [3]uint8

// ParseColor parses a hex color such as "#ff00ff".
func ParseColor(s string) (Color, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, &FieldError{Field: "color", Reason: fmt.Sprintf("invalid hex color %q", s)}
	}
	r, g, b := c.RGB255()
	return Color{r, g, b}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Color) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseColor(node.Value)
		if err != nil {
			return &FieldError{Field: fmt.Sprintf("line %d", node.Line), Reason: fmt.Sprintf("invalid hex color %q", node.Value)}
		}
		*c = parsed
		return nil
	case yaml.SequenceNode:
		var parts []float64
		if err := node.Decode(&parts); err != nil {
			return err
		}
		if len(parts) != 3 {
			return &FieldError{Field: fmt.Sprintf("line %d", node.Line), Reason: "color needs exactly 3 components"}
		}
		for i, v := range parts {
			if v < 0 || v > 255 || v != math.Trunc(v) {
				return &FieldError{Field: fmt.Sprintf("line %d", node.Line), Reason: fmt.Sprintf("color component %v out of range 0..255", v)}
			}
			c[i] = uint8(v)
		}
		return nil
	default:
		return &FieldError{Field: fmt.Sprintf("line %d", node.Line), Reason: "color must be a hex string or [r, g, b]"}
	}
}
