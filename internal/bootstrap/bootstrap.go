// Package bootstrap loads the data a dashboard session starts from: the
// server configuration snapshot and the four catalogs.
//
// Inputs are either one bundle file holding every section or one file per
// section. Files ending in .json or .json5 are parsed as JSON5 (comments and
// trailing commas allowed); everything else is parsed as YAML. Per-section
// files are read concurrently.
//
// The snapshot and all four catalogs are required. A missing section, an
// empty file, or a file that does not parse is a critical failure: the caller
// is expected to abort start-up, and a reload keeps the previous bundle.
// Every error returned by this package wraps [ErrBootstrap].
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/pkg/catalog"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

// ErrBootstrap is wrapped by every error this package returns.
var ErrBootstrap = errors.New("bootstrap: critical failure")

var errEmptyDocument = errors.New("empty document")

// Section names, as used in bundle files and error messages.
const (
	SectionConfig    = "config"
	SectionModels    = "models"
	SectionLanguages = "languages"
	SectionVoices    = "voices"
	SectionStyles    = "styles"
)

// Bundle is everything a session is built from.
type Bundle struct {
	// Snapshot is the flat server configuration.
	Snapshot profile.Snapshot `json:"config" yaml:"config"`

	Models    map[string][]catalog.Entry            `json:"models" yaml:"models"`
	Languages map[string][]catalog.Entry            `json:"languages" yaml:"languages"`
	Voices    map[string]map[string][]catalog.Voice `json:"voices" yaml:"voices"`
	Styles    map[string][]catalog.Entry            `json:"styles" yaml:"styles"`
}

// Catalog returns the catalog sections of b.
func (b *Bundle) Catalog() catalog.Data {
	return catalog.Data{
		Models:    b.Models,
		Languages: b.Languages,
		Voices:    b.Voices,
		Styles:    b.Styles,
	}
}

// missing lists the sections b lacks. A present but empty section counts as
// present.
func (b *Bundle) missing() []string {
	var out []string
	if b.Snapshot == nil {
		out = append(out, SectionConfig)
	}
	if b.Models == nil {
		out = append(out, SectionModels)
	}
	if b.Languages == nil {
		out = append(out, SectionLanguages)
	}
	if b.Voices == nil {
		out = append(out, SectionVoices)
	}
	if b.Styles == nil {
		out = append(out, SectionStyles)
	}
	return out
}

// Sources names the files a [Bundle] is read from: either one bundle file, or
// one file for each of the five sections. When Bundle is set the other paths
// are ignored.
type Sources struct {
	Bundle    string `yaml:"bundle"`
	Config    string `yaml:"config"`
	Models    string `yaml:"models"`
	Languages string `yaml:"languages"`
	Voices    string `yaml:"voices"`
	Styles    string `yaml:"styles"`
}

// Missing lists the sections that have neither a bundle nor a section path.
func (s Sources) Missing() []string {
	if s.Bundle != "" {
		return nil
	}
	var out []string
	for _, sec := range [...]struct{ name, path string }{
		{SectionConfig, s.Config},
		{SectionModels, s.Models},
		{SectionLanguages, s.Languages},
		{SectionVoices, s.Voices},
		{SectionStyles, s.Styles},
	} {
		if sec.path == "" {
			out = append(out, sec.name)
		}
	}
	return out
}

// Paths returns every non-empty path in s, bundle first.
func (s Sources) Paths() []string {
	if s.Bundle != "" {
		return []string{s.Bundle}
	}
	var out []string
	for _, p := range []string{s.Config, s.Models, s.Languages, s.Voices, s.Styles} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads and decodes the bundle described by src.
func Load(ctx context.Context, src Sources) (*Bundle, error) {
	ctx, span := observe.StartSpan(ctx, "bootstrap.load",
		trace.WithAttributes(observe.AttrSources.StringSlice(src.Paths())))
	defer span.End()
	start := time.Now()

	b, err := load(ctx, src)
	if err != nil {
		observe.Fail(span, err, "")
		return nil, err
	}
	observe.DefaultMetrics().BootstrapDuration.Record(ctx, time.Since(start).Seconds())
	span.SetAttributes(
		observe.AttrSnapshotKeys.Int(len(b.Snapshot)),
		observe.AttrModelProviders.Int(len(b.Models)),
		observe.AttrVoiceProviders.Int(len(b.Voices)),
	)
	return b, nil
}

func load(ctx context.Context, src Sources) (*Bundle, error) {
	if src.Bundle != "" {
		data, err := readFile(src.Bundle)
		if err != nil {
			return nil, err
		}
		return Decode(data, src.Bundle)
	}
	if missing := src.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrBootstrap, strings.Join(missing, ", "))
	}

	b := &Bundle{}
	g, _ := errgroup.WithContext(ctx)
	section := func(path string, dst any) {
		g.Go(func() error {
			data, err := readFile(path)
			if err != nil {
				return err
			}
			if err := decodeInto(data, path, dst, false); err != nil {
				return fmt.Errorf("%w: decode %q: %w", ErrBootstrap, path, err)
			}
			return nil
		})
	}
	section(src.Config, &b.Snapshot)
	section(src.Models, &b.Models)
	section(src.Languages, &b.Languages)
	section(src.Voices, &b.Voices)
	section(src.Styles, &b.Styles)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if missing := b.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrBootstrap, strings.Join(missing, ", "))
	}
	return b, nil
}

// Decode parses a bundle file's contents. pathHint selects the format by
// extension. Unknown top-level sections are rejected, and so is a bundle
// lacking any of the five sections.
func Decode(data []byte, pathHint string) (*Bundle, error) {
	b := &Bundle{}
	if err := decodeInto(data, pathHint, b, true); err != nil {
		return nil, fmt.Errorf("%w: decode %q: %w", ErrBootstrap, pathHint, err)
	}
	if missing := b.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %q: missing %s", ErrBootstrap, pathHint, strings.Join(missing, ", "))
	}
	return b, nil
}

// decodeInto parses data as JSON5 or YAML and re-encodes it as JSON into dst
// so that the catalog types' JSON decoding (label aliases, the bare-string
// shim) applies to both formats. An empty or null document is an error.
func decodeInto(data []byte, pathHint string, dst any, strict bool) error {
	raw, err := parseRaw(data, pathHint)
	if err != nil {
		return err
	}
	if raw == nil {
		return errEmptyDocument
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("normalise: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	if strict {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(dst)
}

func parseRaw(data []byte, pathHint string) (any, error) {
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		var raw any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("expected a single YAML document")
	}
	return raw, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %w", ErrBootstrap, path, err)
	}
	return data, nil
}
