// Package content holds the static site catalog: site metadata, the
// demo gallery, and the test-suite definitions. The catalog is embedded
// at build time and validated on load.
package content

import (
	_ "embed"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var rawCatalog []byte

// Site is the site-level configuration served on /api/config.
type Site struct {
	Name        string            `yaml:"name" json:"name" validate:"required"`
	Title       string            `yaml:"title" json:"title" validate:"required"`
	Description string            `yaml:"description" json:"description" validate:"required"`
	Author      string            `yaml:"author" json:"author" validate:"required"`
	Social      map[string]string `yaml:"social" json:"social"`
	Nav         []NavEntry        `yaml:"nav" json:"nav" validate:"dive"`
}

// NavEntry is one navigation link.
type NavEntry struct {
	Label string `yaml:"label" json:"label" validate:"required"`
	Path  string `yaml:"path" json:"path" validate:"required,startswith=/"`
}

// Demo describes one entry in the demo gallery.
type Demo struct {
	ID       string        `yaml:"id" json:"id" validate:"required"`
	Title    string        `yaml:"title" json:"title" validate:"required"`
	Summary  string        `yaml:"summary" json:"summary" validate:"required"`
	Tags     []string      `yaml:"tags" json:"tags"`
	Path     string        `yaml:"path" json:"path" validate:"required,startswith=/"`
	Pipeline *PipelineSpec `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
}

// PipelineSpec defines the steps a demo pipeline run walks through.
type PipelineSpec struct {
	Steps []PipelineStep `yaml:"steps" json:"steps" validate:"min=1,dive"`
}

// PipelineStep is one simulated stage of an ELT run.
type PipelineStep struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Kind     string `yaml:"kind" json:"kind" validate:"required,oneof=extract transform load"`
	Duration int    `yaml:"duration_ms" json:"durationMs" validate:"min=1"`
	Records  int    `yaml:"records" json:"records" validate:"min=0"`
}

// TestSuite describes one suite on the testing dashboard.
type TestSuite struct {
	ID          string     `yaml:"id" json:"id" validate:"required"`
	Name        string     `yaml:"name" json:"name" validate:"required"`
	Description string     `yaml:"description" json:"description"`
	Cases       []TestCase `yaml:"cases" json:"cases" validate:"min=1,dive"`
}

// TestCase is one simulated test. Failing cases are declared in the
// catalog so runs are reproducible.
type TestCase struct {
	ID       string `yaml:"id" json:"id" validate:"required"`
	Name     string `yaml:"name" json:"name" validate:"required"`
	Duration int    `yaml:"duration_ms" json:"durationMs" validate:"min=1"`
	Failing  bool   `yaml:"failing" json:"-"`
}

// Catalog is the full static content inventory.
type Catalog struct {
	Site       Site        `yaml:"site" json:"site" validate:"required"`
	Demos      []Demo      `yaml:"demos" json:"demos" validate:"min=1,dive"`
	TestSuites []TestSuite `yaml:"test_suites" json:"testSuites" validate:"min=1,dive"`
}

// Load parses and validates the embedded catalog.
func Load() (*Catalog, error) {
	return parse(rawCatalog)
}

func parse(raw []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := validator.New().Struct(&cat); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	seen := make(map[string]struct{})
	for _, d := range cat.Demos {
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("duplicate demo id %q", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	for _, s := range cat.TestSuites {
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("duplicate suite id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return &cat, nil
}

// DemoByID returns the demo with the given id, or nil.
func (c *Catalog) DemoByID(id string) *Demo {
	for i := range c.Demos {
		if c.Demos[i].ID == id {
			return &c.Demos[i]
		}
	}
	return nil
}

// SuiteByID returns the test suite with the given id, or nil.
func (c *Catalog) SuiteByID(id string) *TestSuite {
	for i := range c.TestSuites {
		if c.TestSuites[i].ID == id {
			return &c.TestSuites[i]
		}
	}
	return nil
}
