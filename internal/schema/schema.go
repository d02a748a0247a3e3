// Package schema loads the model registry: a YAML catalogue declaring
// which models exist, their fields, and each field's type. The registry
// is the vocabulary the permission system grants against and the record
// gateway validates against; nothing outside it is ever served.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EssentialFields are readable by every authenticated client regardless
// of permission rows, and "id" is force-included in every projection.
var EssentialFields = []string{"id", "created_at", "updated_at"}

// Essential reports whether name is one of the always-readable fields.
func Essential(name string) bool {
	for _, f := range EssentialFields {
		if f == name {
			return true
		}
	}

	return false
}

var knownTypes = map[string]bool{
	"char": true, "text": true, "html": true, "binary": true,
	"integer": true, "float": true, "monetary": true, "boolean": true,
	"date": true, "datetime": true, "selection": true,
	"many2one": true, "one2many": true, "many2many": true,
}

// Field describes one exposed column. The JSON tags produce the field
// descriptor shape of the permissions listing.
type Field struct {
	Name      string   `yaml:"name" json:"name"`
	Type      string   `yaml:"type" json:"type"`
	Required  bool     `yaml:"required" json:"required"`
	ReadOnly  bool     `yaml:"readonly" json:"readonly"`
	Label     string   `yaml:"label" json:"string"`
	Relation  string   `yaml:"relation,omitempty" json:"relation,omitempty"`
	Selection []string `yaml:"selection,omitempty" json:"selection,omitempty"`

	// Virtual fields are computed at read time and not persisted; they
	// cannot be granted or used as filter targets.
	Virtual bool `yaml:"virtual,omitempty" json:"-"`
}

// IsDatetime reports whether the field can serve as a datetime filter
// target.
func (f *Field) IsDatetime() bool {
	return f.Type == "datetime"
}

// Model describes one exposed model.
type Model struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Fields      []Field `yaml:"fields" json:"fields"`

	// Transient models hold throwaway wizard-style data; they are listed
	// in the schema for completeness but can never be granted.
	Transient bool `yaml:"transient,omitempty" json:"-"`
}

// Field returns the named field descriptor.
func (m *Model) Field(name string) (*Field, bool) {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i], true
		}
	}

	return nil, false
}

type document struct {
	Models []Model `yaml:"models"`
}

// Registry is the loaded, validated model catalogue. It is immutable
// after Load and safe for concurrent use.
type Registry struct {
	models map[string]*Model
}

// Load reads and validates the registry at path. Every model is
// completed with the implicit audit columns (id, created_at, updated_at)
// if the file does not declare them.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}

	return Parse(raw)
}

// Parse builds a registry from raw YAML.
func Parse(raw []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("schema declares no models")
	}

	registry := &Registry{models: make(map[string]*Model, len(doc.Models))}
	for i := range doc.Models {
		m := doc.Models[i]
		if err := validateModel(&m); err != nil {
			return nil, err
		}
		if _, ok := registry.models[m.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate model %q", m.Name)
		}

		addAuditColumns(&m)
		registry.models[m.Name] = &m
	}

	return registry, nil
}

func validateModel(m *Model) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("schema: model with empty name")
	}

	seen := make(map[string]bool, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema: model %q has a field with an empty name", m.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema: model %q declares field %q twice", m.Name, f.Name)
		}
		seen[f.Name] = true

		if !knownTypes[f.Type] {
			return fmt.Errorf("schema: model %q field %q has unknown type %q", m.Name, f.Name, f.Type)
		}
		if f.Label == "" {
			f.Label = f.Name
		}
	}

	return nil
}

// addAuditColumns injects the implicit columns every stored model carries.
func addAuditColumns(m *Model) {
	if _, ok := m.Field("id"); !ok {
		m.Fields = append(m.Fields, Field{
			Name: "id", Type: "integer", Required: true, ReadOnly: true, Label: "ID",
		})
	}
	for _, name := range []string{"created_at", "updated_at"} {
		if _, ok := m.Field(name); !ok {
			m.Fields = append(m.Fields, Field{
				Name: name, Type: "datetime", ReadOnly: true, Label: name,
			})
		}
	}
}

// Model returns the named model.
func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.models[name]

	return m, ok
}

// Models returns all models ordered by name.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// ValidateGrant checks that a permission grant names a known,
// non-transient model and only stored, existing fields. It returns the
// cleaned field list with duplicates removed.
func (r *Registry) ValidateGrant(model string, fields []string) ([]string, error) {
	m, ok := r.Model(model)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", model)
	}
	if m.Transient {
		return nil, fmt.Errorf("model %q is transient and cannot be granted", model)
	}

	seen := make(map[string]bool, len(fields))
	cleaned := make([]string, 0, len(fields))
	for _, name := range fields {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		f, ok := m.Field(name)
		if !ok {
			return nil, fmt.Errorf("model %q has no field %q", model, name)
		}
		if f.Virtual {
			return nil, fmt.Errorf("field %q of model %q is virtual and cannot be granted", name, model)
		}

		cleaned = append(cleaned, name)
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("grant for model %q names no fields", model)
	}

	return cleaned, nil
}
