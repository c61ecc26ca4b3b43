// Package prompts holds the instructions given to the oracle for each stage.
// A default catalogue is embedded; operators may override it with a YAML file
// of the same shape.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

// ErrEmptyPrompt is returned when a stage has no system prompt or task.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Stage is the prompt pair for one pipeline stage.
type Stage struct {
	System string `yaml:"system"`
	Task   string `yaml:"task"`
}

// Catalogue is the full set of stage prompts.
type Catalogue struct {
	Classification Stage `yaml:"classification"`
	Automation     Stage `yaml:"automation"`
}

// TaskData is what task templates are rendered with.
type TaskData struct {
	Count  int
	Emails string
}

// Default returns the embedded catalogue.
func Default() *Catalogue {
	c, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded catalogue: %v", err))
	}
	return c
}

// Load reads a catalogue from path. Stages or fields left empty in the file
// keep their default text.
func Load(path string) (*Catalogue, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}

	over, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}

	c := Default()
	c.Classification.merge(over.Classification)
	c.Automation.merge(over.Automation)
	return c, c.Validate()
}

// Validate checks that every stage has both prompts and that the task
// templates parse.
func (c *Catalogue) Validate() error {
	var errs []error
	for name, st := range map[string]Stage{"classification": c.Classification, "automation": c.Automation} {
		if strings.TrimSpace(st.System) == "" || strings.TrimSpace(st.Task) == "" {
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrEmptyPrompt))
			continue
		}
		if _, err := template.New(name).Parse(st.Task); err != nil {
			errs = append(errs, fmt.Errorf("%s task: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Render fills the task template with data.
func (s Stage) Render(data TaskData) (string, error) {
	tmpl, err := template.New("task").Option("missingkey=error").Parse(s.Task)
	if err != nil {
		return "", fmt.Errorf("parse task template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render task template: %w", err)
	}
	return sb.String(), nil
}

func (s *Stage) merge(over Stage) {
	if strings.TrimSpace(over.System) != "" {
		s.System = over.System
	}
	if strings.TrimSpace(over.Task) != "" {
		s.Task = over.Task
	}
}

func parse(b []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
