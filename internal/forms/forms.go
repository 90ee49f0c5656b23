// Package forms holds the per-form-type table of section labels, analysis
// groups and prompts.
package forms

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultType is the form used for any type the table does not list.
const DefaultType = "default"

// ErrUnknownGroup is returned when a group name is not declared for a form.
var ErrUnknownGroup = errors.New("unknown group")

//go:embed forms.yaml
var builtin []byte

// Group is a named set of section labels analyzed together.
type Group struct {
	Name   string   `yaml:"name" json:"name"`
	Labels []string `yaml:"labels" json:"labels"`
	Prompt string   `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// Form describes one SEC form type.
type Form struct {
	Type         string   `yaml:"type" json:"type"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	Labels       []string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Groups       []Group  `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// Group returns the group called name.
func (f *Form) Group(name string) (Group, error) {
	for _, g := range f.Groups {
		if g.Name == name {
			return g, nil
		}
	}
	return Group{}, fmt.Errorf("%w %q for form %s", ErrUnknownGroup, name, f.Type)
}

// Structured reports whether the form declares section labels.
func (f *Form) Structured() bool { return len(f.Labels) > 0 }

// Table is the immutable set of forms. Lookups are case-insensitive.
type Table struct {
	Forms []Form `yaml:"forms"`

	byType map[string]*Form
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("forms: builtin table: %v", err))
	}
	return t
}

// Load reads a table from a YAML file. An empty path returns Default().
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.byType = make(map[string]*Form, len(t.Forms))
	for i := range t.Forms {
		t.byType[key(t.Forms[i].Type)] = &t.Forms[i]
	}
	return &t, nil
}

// Validate checks that a default form exists, types are unique, and every
// group label is one of its form's labels.
func (t *Table) Validate() error {
	seen := make(map[string]bool, len(t.Forms))
	for _, f := range t.Forms {
		if strings.TrimSpace(f.Type) == "" {
			return errors.New("form with empty type")
		}
		k := key(f.Type)
		if seen[k] {
			return fmt.Errorf("duplicate form type %q", f.Type)
		}
		seen[k] = true

		labels := make(map[string]bool, len(f.Labels))
		for _, l := range f.Labels {
			labels[l] = true
		}
		groups := make(map[string]bool, len(f.Groups))
		for _, g := range f.Groups {
			if g.Name == "" {
				return fmt.Errorf("form %s: group with empty name", f.Type)
			}
			if groups[g.Name] {
				return fmt.Errorf("form %s: duplicate group %q", f.Type, g.Name)
			}
			groups[g.Name] = true
			for _, l := range g.Labels {
				if !labels[l] {
					return fmt.Errorf("form %s: group %s uses undeclared label %q", f.Type, g.Name, l)
				}
			}
		}
	}
	if !seen[DefaultType] {
		return errors.New("no default form")
	}
	return nil
}

// Lookup returns the form for formType, or the default form.
func (t *Table) Lookup(formType string) *Form {
	if f, ok := t.byType[key(formType)]; ok {
		return f
	}
	return t.byType[DefaultType]
}

// Types lists the declared form types in table order.
func (t *Table) Types() []string {
	out := make([]string, len(t.Forms))
	for i, f := range t.Forms {
		out[i] = f.Type
	}
	return out
}

// Prompt picks the instruction for a group: the group's own prompt, then the
// form's system prompt, then the default form's.
func (t *Table) Prompt(f *Form, g Group) string {
	if g.Prompt != "" {
		return g.Prompt
	}
	if f != nil && f.SystemPrompt != "" {
		return f.SystemPrompt
	}
	return t.byType[DefaultType].SystemPrompt
}

func key(formType string) string {
	return strings.ToLower(strings.TrimSpace(formType))
}
