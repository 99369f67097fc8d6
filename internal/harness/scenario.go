package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a list of queries evaluated over one fixture.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Fixture is the catalog fixture both backends are loaded from.
	// Relative paths are resolved against the scenario file.
	Fixture string `yaml:"fixture"`

	// Namespace is the default namespace for every step.
	Namespace string `yaml:"namespace,omitempty"`

	// Params bind $name parameters for every step.
	Params map[string]any `yaml:"params,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one query and its expected outcome.
type Step struct {
	Query string `yaml:"query"`

	// Limit caps the result; 0 means no cap.
	Limit int `yaml:"limit,omitempty"`

	// WithMetadata fetches metadata, so the backends are compared on
	// metadata too.
	WithMetadata bool `yaml:"with_metadata,omitempty"`

	Expect Expect `yaml:"expect"`
}

// Expect is a step's expected outcome. Unset fields are not checked.
type Expect struct {
	Files    []string `yaml:"files,omitempty"`
	Datasets []string `yaml:"datasets,omitempty"`
	Count    *int     `yaml:"count,omitempty"`
	Error    string   `yaml:"error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Fixture != "" && !filepath.IsAbs(scenario.Fixture) {
		scenario.Fixture = filepath.Join(filepath.Dir(path), scenario.Fixture)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, in name order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Fixture == "" {
		return fmt.Errorf("fixture is required")
	}
	if _, err := os.Stat(s.Fixture); os.IsNotExist(err) {
		return fmt.Errorf("fixture file not found: %s", s.Fixture)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Query == "" {
			return fmt.Errorf("steps[%d]: query is required", i)
		}
		if step.Limit < 0 {
			return fmt.Errorf("steps[%d]: limit must be non-negative", i)
		}
		e := step.Expect
		if e.Files == nil && e.Datasets == nil && e.Count == nil && e.Error == "" {
			return fmt.Errorf("steps[%d]: expect needs files, datasets, count or error", i)
		}
		if e.Error != "" && (e.Files != nil || e.Datasets != nil || e.Count != nil) {
			return fmt.Errorf("steps[%d]: expect.error excludes result expectations", i)
		}
		if e.Count != nil && *e.Count < 0 {
			return fmt.Errorf("steps[%d]: count must be non-negative", i)
		}
	}
	return nil
}
