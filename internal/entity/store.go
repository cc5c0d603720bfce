package entity

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/starford/curator/internal/apperr"
	"github.com/starford/curator/internal/frontmatter"
	"github.com/starford/curator/internal/schema"
	"github.com/starford/curator/internal/storage"
)

// nonEntityDirs are workspace directories that never hold entities.
var nonEntityDirs = map[string]bool{
	"decisions": true,
	ArchiveDir:  true,
}

// Store provides schema-aware CRUD over workspace entities. It is built on
// the storage provider's atomic writes, so it can share a workspace with a
// concurrent maintenance run without locks.
type Store struct {
	files  storage.Provider
	schema *schema.Definition

	// Now is the clock used for created_at/updated_at stamps.
	Now func() time.Time
}

// NewStore creates a store over the given workspace files and schema. The
// schema is fixed for the store's lifetime; callers that need fresh schema
// state (the maintenance engine does, once per run) construct a new store.
func NewStore(files storage.Provider, def *schema.Definition) *Store {
	return &Store{files: files, schema: def, Now: time.Now}
}

// ListOptions narrow a List call.
type ListOptions struct {
	// Filters matches frontmatter fields by string equality.
	Filters map[string]any
	// IncludeArchived lifts the default exclusion of status=archived
	// entities. A "status" filter overrides the exclusion on its own.
	IncludeArchived bool
	// Limit caps the result count; zero means no cap.
	Limit int
	// SortKey orders results by a frontmatter field; empty leaves the
	// directory order.
	SortKey string
}

// Create resolves the type schema, applies declared defaults, validates the
// result, derives the path from the naming template, and writes atomically.
// A path collision is an error, never a silent overwrite.
func (s *Store) Create(typeName string, fm *frontmatter.Fields, content string) (*Entity, error) {
	ts, err := s.schema.ResolveType(typeName)
	if err != nil {
		return nil, err
	}

	merged := fm.Clone()
	for field, value := range ts.Defaults {
		merged.SetDefault(field, value)
	}
	merged.SetDefault("created_at", s.Now().Format(time.RFC3339))

	if err := s.validate(ts, merged); err != nil {
		return nil, err
	}

	filename, err := s.filename(ts, merged)
	if err != nil {
		return nil, err
	}
	relPath := path.Join(ts.Directory, filename)
	if s.files.Exists(relPath) {
		return nil, fmt.Errorf("entity at %s: %w", relPath, apperr.ErrAlreadyExists)
	}

	if err := s.write(relPath, merged, content); err != nil {
		return nil, err
	}
	return s.read(typeName, relPath)
}

// Update merges partial frontmatter over the existing fields (partial wins
// field by field), replaces the body only when newContent is non-nil,
// re-validates, and writes atomically.
func (s *Store) Update(typeName, id string, partial *frontmatter.Fields, newContent *string) (*Entity, error) {
	ts, err := s.schema.ResolveType(typeName)
	if err != nil {
		return nil, err
	}
	existing, err := s.Get(typeName, id)
	if err != nil {
		return nil, err
	}

	merged := existing.Frontmatter.Clone()
	if partial != nil {
		for _, key := range partial.Keys() {
			value, _ := partial.Get(key)
			merged.Set(key, value)
		}
	}
	merged.Set("updated_at", s.Now().Format(time.RFC3339))

	if err := s.validate(ts, merged); err != nil {
		return nil, err
	}

	body := existing.Body
	if newContent != nil {
		body = *newContent
	}
	if err := s.write(existing.Path, merged, body); err != nil {
		return nil, err
	}
	return s.read(typeName, existing.Path)
}

// Get returns the entity with the given type and id.
func (s *Store) Get(typeName, id string) (*Entity, error) {
	ts, err := s.schema.ResolveType(typeName)
	if err != nil {
		return nil, err
	}
	relPath := path.Join(ts.Directory, id+".md")
	if !s.files.Exists(relPath) {
		return nil, fmt.Errorf("entity %s/%s: %w", typeName, id, apperr.ErrNotFound)
	}
	return s.read(typeName, relPath)
}

// Load reads the entity at a workspace-relative path. The type is derived
// from the leading directory, mapped back through the declared schema types.
func (s *Store) Load(relPath string) (*Entity, error) {
	dir := path.Dir(relPath)
	seg := dir
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if dir == "." || nonEntityDirs[seg] || strings.HasPrefix(seg, ".") {
		return nil, fmt.Errorf("path %s is not an entity: %w", relPath, apperr.ErrNotFound)
	}
	typeName := dir
	for _, name := range s.schema.Types() {
		if ts, err := s.schema.ResolveType(name); err == nil && ts.Directory == dir {
			typeName = name
			break
		}
	}
	if !s.files.Exists(relPath) {
		return nil, fmt.Errorf("path %s: %w", relPath, apperr.ErrNotFound)
	}
	return s.read(typeName, relPath)
}

// List returns the entities of a type. The order is unspecified unless a
// sort key is requested.
func (s *Store) List(typeName string, opts ListOptions) ([]*Entity, error) {
	ts, err := s.schema.ResolveType(typeName)
	if err != nil {
		return nil, err
	}
	return s.listDir(typeName, ts.Directory, opts)
}

// Delete removes the entity file.
func (s *Store) Delete(typeName, id string) error {
	ts, err := s.schema.ResolveType(typeName)
	if err != nil {
		return err
	}
	relPath := path.Join(ts.Directory, id+".md")
	if !s.files.Exists(relPath) {
		return fmt.Errorf("entity %s/%s: %w", typeName, id, apperr.ErrNotFound)
	}
	return s.files.Delete(relPath)
}

// Search returns entities whose title or body contains the query,
// case-insensitively. An empty typeName searches every entity directory.
func (s *Store) Search(query, typeName string, limit int) ([]*Entity, error) {
	return s.search(query, typeName, limit, "")
}

// ListAll returns every entity in the workspace: all declared types plus any
// undiscovered entity directories at the root. Unreadable files are excluded
// and reported in issues by path, to be retried on the next run.
func (s *Store) ListAll() (entities []*Entity, issues map[string]string, err error) {
	issues = map[string]string{}
	for _, typeName := range s.typeNames() {
		ts, rerr := s.schema.ResolveType(typeName)
		if rerr != nil {
			return nil, nil, rerr
		}
		infos, lerr := s.files.List(ts.Directory)
		if lerr != nil {
			return nil, nil, lerr
		}
		for _, info := range infos {
			if info.Issue != "" {
				issues[info.Path] = info.Issue
				continue
			}
			e, rerr := s.read(typeName, info.Path)
			if rerr != nil {
				issues[info.Path] = rerr.Error()
				continue
			}
			entities = append(entities, e)
		}
	}
	return entities, issues, nil
}

// typeNames is the union of declared schema types and root directories that
// look like entity directories, sorted for deterministic scans.
func (s *Store) typeNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range s.schema.Types() {
		seen[name] = true
		out = append(out, name)
	}
	dirs, err := s.files.Dirs("")
	if err == nil {
		for _, dir := range dirs {
			if nonEntityDirs[dir] || seen[dir] {
				continue
			}
			// Only directories that actually hold markdown files count.
			if infos, err := s.files.List(dir); err == nil && len(infos) > 0 {
				seen[dir] = true
				out = append(out, dir)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) listDir(typeName, dir string, opts ListOptions) ([]*Entity, error) {
	infos, err := s.files.List(dir)
	if err != nil {
		return nil, err
	}

	_, statusFiltered := opts.Filters["status"]
	var out []*Entity
	for _, info := range infos {
		if info.Issue != "" {
			// Unreadable files are skipped here; the maintenance scan
			// reports them via ListAll.
			continue
		}
		e, err := s.read(typeName, info.Path)
		if err != nil {
			continue
		}
		if !matches(e, opts.Filters) {
			continue
		}
		if !statusFiltered && !opts.IncludeArchived && e.Status() == StatusArchived {
			continue
		}
		out = append(out, e)
	}

	if opts.SortKey != "" {
		key := opts.SortKey
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Frontmatter.GetString(key) < out[j].Frontmatter.GetString(key)
		})
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) search(query, typeName string, limit int, dirPrefix string) ([]*Entity, error) {
	var typeNames []string
	if typeName != "" {
		typeNames = []string{typeName}
	} else {
		typeNames = s.typeNames()
	}

	needle := strings.ToLower(query)
	var out []*Entity
	for _, tn := range typeNames {
		ts, err := s.schema.ResolveType(tn)
		if err != nil {
			return nil, err
		}
		dir := path.Join(dirPrefix, ts.Directory)
		infos, err := s.files.List(dir)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
			if info.Issue != "" {
				continue
			}
			e, err := s.read(tn, info.Path)
			if err != nil {
				continue
			}
			haystack := strings.ToLower(e.Title() + " " + e.Body)
			if strings.Contains(haystack, needle) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// read loads and parses one entity file. Malformed metadata degrades to an
// empty field set with the whole file as body.
func (s *Store) read(typeName, relPath string) (*Entity, error) {
	data, err := s.files.Read(relPath)
	if err != nil {
		return nil, err
	}
	info, err := s.files.Stat(relPath)
	if err != nil {
		return nil, err
	}
	fields, body, warn := frontmatter.Parse(data)
	base := path.Base(relPath)
	return &Entity{
		Type:        typeName,
		ID:          strings.TrimSuffix(base, ".md"),
		Path:        relPath,
		Frontmatter: fields,
		Body:        body,
		Checksum:    info.Checksum,
		UpdatedAt:   info.UpdatedAt,
		Malformed:   warn != nil,
	}, nil
}

func (s *Store) write(relPath string, fm *frontmatter.Fields, body string) error {
	raw, err := frontmatter.Serialize(fm, body)
	if err != nil {
		return err
	}
	return s.files.Write(relPath, raw)
}

// validate checks required fields and enum constraints after defaults.
func (s *Store) validate(ts schema.TypeSchema, fm *frontmatter.Fields) error {
	for _, field := range ts.Required {
		if _, ok := fm.Get(field); !ok {
			return &apperr.MissingRequiredFieldError{EntityType: ts.Name, Field: field}
		}
	}
	for field, allowed := range ts.Enums {
		value, ok := fm.Get(field)
		if !ok {
			continue
		}
		got := fmt.Sprintf("%v", value)
		found := false
		for _, a := range allowed {
			if got == a {
				found = true
				break
			}
		}
		if !found {
			return &apperr.InvalidFieldValueError{EntityType: ts.Name, Field: field, Value: value}
		}
	}
	return nil
}

// filename expands the naming template. A {slug} placeholder with no slug
// field falls back to slugifying the title (then name).
func (s *Store) filename(ts schema.TypeSchema, fm *frontmatter.Fields) (string, error) {
	values := fm.Map()
	if _, ok := values["slug"]; !ok && strings.Contains(ts.Naming, "{slug}") {
		source := fm.GetString("title")
		if source == "" {
			source = fm.GetString("name")
		}
		if source == "" {
			return "", fmt.Errorf("entity type %s: cannot derive slug without a title or name field", ts.Name)
		}
		values["slug"] = Slugify(source)
	}
	name := ts.Filename(values)
	if strings.ContainsAny(name, "{}") {
		return "", fmt.Errorf("entity type %s: naming template %q has unresolved placeholders", ts.Name, name)
	}
	return name, nil
}

func matches(e *Entity, filters map[string]any) bool {
	for field, want := range filters {
		got, ok := e.Frontmatter.Get(field)
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
