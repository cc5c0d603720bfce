package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/curator/internal/apperr"
)

func writeSchema(t *testing.T, workspace, content string) {
	t.Helper()
	path := filepath.Join(workspace, filepath.FromSlash(File))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_AbsentFileUsesConvention(t *testing.T) {
	def, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !def.Conventional() {
		t.Error("expected conventional definition")
	}
	ts, err := def.ResolveType("tasks")
	if err != nil {
		t.Fatalf("ResolveType: %v", err)
	}
	if ts.Directory != "tasks" || ts.Naming != "{slug}.md" {
		t.Errorf("convention schema = %+v", ts)
	}
	if len(ts.Required) != 0 || len(ts.Defaults) != 0 {
		t.Errorf("convention schema should declare no rules: %+v", ts)
	}
}

func TestLoad_DeclaredTypes(t *testing.T) {
	ws := t.TempDir()
	writeSchema(t, ws, `
entities:
  tasks:
    directory: tasks
    naming: "{slug}.md"
    frontmatter:
      required: [status]
      defaults:
        status: open
      enums:
        status: [open, in_progress, done, blocked, cancelled]
  journal:
    naming: "{date}.md"
`)
	def, err := Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tasks, err := def.ResolveType("tasks")
	if err != nil {
		t.Fatalf("ResolveType tasks: %v", err)
	}
	if tasks.Defaults["status"] != "open" {
		t.Errorf("defaults = %v", tasks.Defaults)
	}
	if len(tasks.Required) != 1 || tasks.Required[0] != "status" {
		t.Errorf("required = %v", tasks.Required)
	}
	if len(tasks.Enums["status"]) != 5 {
		t.Errorf("enums = %v", tasks.Enums)
	}

	// Directory falls back to the type name when omitted.
	journal, err := def.ResolveType("journal")
	if err != nil {
		t.Fatalf("ResolveType journal: %v", err)
	}
	if journal.Directory != "journal" {
		t.Errorf("directory = %q", journal.Directory)
	}
}

func TestLoad_UnparsableFile(t *testing.T) {
	ws := t.TempDir()
	writeSchema(t, ws, ": not: valid: yaml: {{{")
	_, err := Load(ws)
	var parseErr *apperr.SchemaParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected SchemaParseError, got %v", err)
	}
}

func TestResolveType_UnknownWithSchemaFile(t *testing.T) {
	ws := t.TempDir()
	writeSchema(t, ws, "entities:\n  tasks: {}\n")
	def, err := Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = def.ResolveType("unheard_of")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFilename_TemplateExpansion(t *testing.T) {
	ts := TypeSchema{Name: "journal", Directory: "journal", Naming: "{date}.md"}
	got := ts.Filename(map[string]any{"date": "2024-01-15", "title": "ignored"})
	if got != "2024-01-15.md" {
		t.Errorf("Filename = %q", got)
	}
}

func TestTypes_Sorted(t *testing.T) {
	ws := t.TempDir()
	writeSchema(t, ws, "entities:\n  notes: {}\n  tasks: {}\n  journal: {}\n")
	def, err := Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := def.Types()
	want := []string{"journal", "notes", "tasks"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("Types = %v, want %v", got, want)
	}
}
