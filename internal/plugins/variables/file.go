package variables

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/cuebox/internal/state"
)

// Definition is one variable as written in the variables file.
type Definition struct {
	Type       state.Type `yaml:"type"`
	Default    any        `yaml:"default"`
	Serialized bool       `yaml:"serialized"`
}

type document struct {
	Variables map[string]Definition `yaml:"variables"`
}

// LoadFile reads variable definitions from path. A missing file yields no
// variables.
func LoadFile(path string) ([]state.Spec, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening variables file: %w", err)
	}
	defer f.Close()

	specs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// Parse decodes a variables document. Specs are sorted by name.
func Parse(r io.Reader) ([]state.Spec, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	names := make([]string, 0, len(doc.Variables))
	for name := range doc.Variables {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]state.Spec, 0, len(names))
	for _, name := range names {
		spec, err := Spec(name, doc.Variables[name])
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Spec turns a definition into a state spec, inferring the type from the
// default when none is given.
func Spec(name string, d Definition) (state.Spec, error) {
	if name == "" {
		return state.Spec{}, fmt.Errorf("%w: variable without a name", ErrInvalidFile)
	}
	t := d.Type
	if t == "" {
		t = inferType(d.Default)
	}
	if !t.Valid() {
		return state.Spec{}, fmt.Errorf("%w: variable %s has unknown type %q", ErrInvalidFile, name, d.Type)
	}
	return state.Spec{Key: name, Type: t, Default: d.Default, Serialized: d.Serialized}, nil
}

func inferType(v any) state.Type {
	switch v.(type) {
	case string:
		return state.TypeString
	case bool:
		return state.TypeBoolean
	default:
		return state.TypeNumber
	}
}
