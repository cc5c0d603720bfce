package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/curator/internal/decision"
	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/frontmatter"
	"github.com/starford/curator/internal/schema"
)

func loadSchema(t *testing.T, yaml string) *schema.Definition {
	t.Helper()
	ws := t.TempDir()
	if yaml != "" {
		path := filepath.Join(ws, filepath.FromSlash(schema.File))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	def, err := schema.Load(ws)
	if err != nil {
		t.Fatal(err)
	}
	return def
}

func mkEntity(typeName, id string, pairs ...any) *entity.Entity {
	fm := frontmatter.NewFields()
	for i := 0; i+1 < len(pairs); i += 2 {
		fm.Set(pairs[i].(string), pairs[i+1])
	}
	return &entity.Entity{
		Type:        typeName,
		ID:          id,
		Path:        typeName + "/" + id + ".md",
		Frontmatter: fm,
	}
}

func TestRules_SchemaPhaseProposesUndeclaredType(t *testing.T) {
	def := loadSchema(t, "entities:\n  tasks: {}\n")
	req := Request{
		Phase:  PhaseSchema,
		Schema: def,
		Entities: []*entity.Entity{
			mkEntity("meetings", "standup-1"),
			mkEntity("meetings", "standup-2"),
			mkEntity("meetings", "standup-3"),
			mkEntity("tasks", "declared"),
		},
	}
	findings, err := Rules{}.Analyze(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %v, want one schema proposal", findings)
	}
	f := findings[0]
	if f.DecisionType != decision.TypeSchemaUpdate || f.Title != "schema: add meetings entity type" {
		t.Errorf("finding = %+v", f)
	}
}

func TestRules_SchemaPhaseIgnoresSmallSamples(t *testing.T) {
	def := loadSchema(t, "entities: {}\n")
	req := Request{
		Phase:    PhaseSchema,
		Schema:   def,
		Entities: []*entity.Entity{mkEntity("scratch", "a"), mkEntity("scratch", "b")},
	}
	findings, err := Rules{}.Analyze(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Errorf("findings = %v, want none for a 2-file sample", findings)
	}
}

func TestRules_FrontmatterPhase(t *testing.T) {
	def := loadSchema(t, `
entities:
  tasks:
    frontmatter:
      required: [status]
      enums:
        status: [open, done]
`)
	broken := mkEntity("tasks", "broken")
	broken.Malformed = true

	req := Request{
		Phase:  PhaseFrontmatter,
		Schema: def,
		Entities: []*entity.Entity{
			mkEntity("tasks", "ok", "title", "Fine", "status", "open"),
			mkEntity("tasks", "no-status", "title", "Missing"),
			mkEntity("tasks", "bad-status", "title", "Bad", "status", "DONE"),
			broken,
		},
	}
	findings, err := Rules{}.Analyze(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 3 {
		t.Fatalf("findings = %d, want 3: %+v", len(findings), findings)
	}
	subjects := map[string]bool{}
	for _, f := range findings {
		if f.DecisionType != decision.TypeFrontmatterUpdate {
			t.Errorf("type = %v", f.DecisionType)
		}
		subjects[f.SubjectPath] = true
	}
	for _, want := range []string{"tasks/no-status.md", "tasks/bad-status.md", "tasks/broken.md"} {
		if !subjects[want] {
			t.Errorf("missing finding for %s", want)
		}
	}
}

func TestRules_StructurePhaseArchivesFinished(t *testing.T) {
	def := loadSchema(t, "")
	req := Request{
		Phase:  PhaseStructure,
		Schema: def,
		Entities: []*entity.Entity{
			mkEntity("tasks", "done-task", "status", "done"),
			mkEntity("tasks", "live-task", "status", "open"),
		},
	}
	findings, err := Rules{}.Analyze(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %v", findings)
	}
	f := findings[0]
	if f.DecisionType != decision.TypeArchive || f.SuggestedPath != "zzz_archive/tasks/done-task.md" {
		t.Errorf("finding = %+v", f)
	}
}

func TestParsePhase(t *testing.T) {
	for _, ok := range []string{"schema", "frontmatter", "structure"} {
		if _, err := ParsePhase(ok); err != nil {
			t.Errorf("ParsePhase(%q): %v", ok, err)
		}
	}
	if _, err := ParsePhase("polish"); err == nil {
		t.Error("expected error for unknown phase")
	}
}
