// Package template loads contract-type templates from the external YAML
// rule file and serves lookups by contract-type name.
package template

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/nurisoft/contractdesk/internal/model"
)

// ErrNotFound is returned when no template matches a contract type.
var ErrNotFound = eris.New("template: not found")

// Store holds the loaded template set.
type Store struct {
	templates map[string]model.Template
	order     []string
}

type templateFile struct {
	Templates []model.Template `yaml:"templates"`
}

// Load reads the template rule file.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "template: read %s", path)
	}
	return Parse(data)
}

// Parse builds a store from raw YAML.
func Parse(data []byte) (*Store, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "template: parse yaml")
	}
	if len(f.Templates) == 0 {
		return nil, eris.New("template: no templates defined")
	}

	s := &Store{templates: make(map[string]model.Template, len(f.Templates))}
	for _, t := range f.Templates {
		if t.Name == "" {
			return nil, eris.New("template: template without name")
		}
		if _, dup := s.templates[t.Name]; dup {
			return nil, eris.Errorf("template: duplicate template %q", t.Name)
		}
		s.templates[t.Name] = t
		s.order = append(s.order, t.Name)
	}
	return s, nil
}

// Get looks a template up by contract-type name.
func (s *Store) Get(name string) (model.Template, error) {
	t, ok := s.templates[name]
	if !ok {
		return model.Template{}, eris.Wrapf(ErrNotFound, "%q", name)
	}
	return t, nil
}

// All returns every template in file order.
func (s *Store) All() []model.Template {
	out := make([]model.Template, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.templates[name])
	}
	return out
}
