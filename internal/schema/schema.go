// Package schema loads and resolves the per-workspace entity type
// definitions from .curator/schema.yaml.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/curator/internal/apperr"
)

// File is the fixed workspace-relative path of the schema file.
const File = ".curator/schema.yaml"

// DefaultNaming is the filename template used when a type declares none.
const DefaultNaming = "{slug}.md"

// TypeSchema describes one entity type: where its files live, how they are
// named, and what their frontmatter must look like.
type TypeSchema struct {
	Name      string
	Directory string
	Naming    string
	Required  []string
	Defaults  map[string]any
	Enums     map[string][]string
}

// Validate checks the structural sanity of a declared type.
func (t TypeSchema) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Directory, validation.Required),
		validation.Field(&t.Naming, validation.Required, validation.By(func(any) error {
			if !strings.HasSuffix(t.Naming, ".md") {
				return fmt.Errorf("naming template must end with .md")
			}
			return nil
		})),
	)
}

// Filename expands the type's naming template with frontmatter values.
// Placeholders look like {slug} or {date}; unexpanded placeholders are left
// in place for the caller to reject.
func (t TypeSchema) Filename(values map[string]any) string {
	name := t.Naming
	for key, value := range values {
		placeholder := "{" + key + "}"
		if strings.Contains(name, placeholder) {
			name = strings.ReplaceAll(name, placeholder, fmt.Sprintf("%v", value))
		}
	}
	return name
}

// Definition is the loaded workspace schema.
type Definition struct {
	types map[string]TypeSchema
	// conventional is true when no schema file exists; every type name then
	// resolves to directory-convention defaults.
	conventional bool
}

// rawSchema mirrors the YAML file layout.
type rawSchema struct {
	Entities map[string]rawType `yaml:"entities"`
}

type rawType struct {
	Directory   string         `yaml:"directory"`
	Naming      string         `yaml:"naming"`
	Frontmatter rawFrontmatter `yaml:"frontmatter"`
}

type rawFrontmatter struct {
	Required []string            `yaml:"required"`
	Defaults map[string]any      `yaml:"defaults"`
	Enums    map[string][]string `yaml:"enums"`
}

// Load reads the workspace schema. An absent file is not an error: the
// returned definition resolves every type by directory convention. A file
// that exists but cannot be parsed yields a SchemaParseError, which aborts
// the caller's run.
func Load(workspacePath string) (*Definition, error) {
	path := filepath.Join(workspacePath, filepath.FromSlash(File))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Definition{types: map[string]TypeSchema{}, conventional: true}, nil
		}
		return nil, &apperr.SchemaParseError{Path: File, Err: err}
	}

	var raw rawSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &apperr.SchemaParseError{Path: File, Err: err}
	}

	def := &Definition{types: make(map[string]TypeSchema, len(raw.Entities))}
	for name, rt := range raw.Entities {
		ts := TypeSchema{
			Name:      name,
			Directory: rt.Directory,
			Naming:    rt.Naming,
			Required:  rt.Frontmatter.Required,
			Defaults:  rt.Frontmatter.Defaults,
			Enums:     rt.Frontmatter.Enums,
		}
		if ts.Directory == "" {
			ts.Directory = name
		}
		if ts.Naming == "" {
			ts.Naming = DefaultNaming
		}
		if err := ts.Validate(); err != nil {
			return nil, &apperr.SchemaParseError{Path: File, Err: fmt.Errorf("type %s: %w", name, err)}
		}
		def.types[name] = ts
	}
	return def, nil
}

// ResolveType returns the schema for a type name. Undeclared names resolve
// to convention defaults when no schema file exists; once a schema file is
// present it is authoritative and unknown names are ErrNotFound.
func (d *Definition) ResolveType(name string) (TypeSchema, error) {
	if ts, ok := d.types[name]; ok {
		return ts, nil
	}
	if d.conventional {
		return conventionType(name), nil
	}
	return TypeSchema{}, fmt.Errorf("entity type %q: %w", name, apperr.ErrNotFound)
}

// Types returns the declared type names, sorted for deterministic scans.
func (d *Definition) Types() []string {
	out := make([]string, 0, len(d.types))
	for name := range d.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Conventional reports whether the definition came from directory convention
// rather than a schema file.
func (d *Definition) Conventional() bool {
	return d.conventional
}

// Describe returns a plain-map view of the definition for external surfaces.
func (d *Definition) Describe() map[string]any {
	out := make(map[string]any, len(d.types))
	for name, ts := range d.types {
		out[name] = map[string]any{
			"directory": ts.Directory,
			"naming":    ts.Naming,
			"frontmatter": map[string]any{
				"required": ts.Required,
				"defaults": ts.Defaults,
				"enums":    ts.Enums,
			},
		}
	}
	return out
}

func conventionType(name string) TypeSchema {
	return TypeSchema{
		Name:      name,
		Directory: name,
		Naming:    DefaultNaming,
	}
}
