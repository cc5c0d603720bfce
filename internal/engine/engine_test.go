package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/curator/internal/analyzer"
	"github.com/starford/curator/internal/apperr"
	"github.com/starford/curator/internal/decision"
	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/frontmatter"
	"github.com/starford/curator/internal/schema"
	"github.com/starford/curator/internal/storage"
	"github.com/starford/curator/internal/watermark"
)

const tasksSchema = `
entities:
  tasks:
    directory: tasks
    naming: "{slug}.md"
    frontmatter:
      required: [status]
      defaults:
        status: open
`

type fixture struct {
	workspace string
	files     storage.Provider
	logger    *slog.Logger
}

func setup(t *testing.T, schemaYAML string) *fixture {
	t.Helper()
	ws := t.TempDir()
	if schemaYAML != "" {
		path := filepath.Join(ws, filepath.FromSlash(schema.File))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(schemaYAML), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := storage.NewFS(ws)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		workspace: ws,
		files:     files,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *fixture) engine(t *testing.T, az analyzer.Analyzer) *Engine {
	t.Helper()
	return New(f.workspace, f.files, az, f.logger, Options{})
}

func (f *fixture) createTask(t *testing.T, title string) {
	t.Helper()
	def, err := schema.Load(f.workspace)
	if err != nil {
		t.Fatal(err)
	}
	store := entity.NewStore(f.files, def)
	fm := frontmatter.NewFields()
	fm.Set("title", title)
	if _, err := store.Create("tasks", fm, "body"); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) decisionFiles(t *testing.T) []string {
	t.Helper()
	infos, err := f.files.List(decision.Dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, info := range infos {
		out = append(out, info.Path)
	}
	return out
}

// oneFindingPerEntity is a deterministic analyzer double: one
// frontmatter_update finding per entity it sees.
func oneFindingPerEntity(_ context.Context, req analyzer.Request) ([]analyzer.Finding, error) {
	var out []analyzer.Finding
	for _, e := range req.Entities {
		out = append(out, analyzer.Finding{
			DecisionType: decision.TypeFrontmatterUpdate,
			Title:        "fix: " + e.Path,
			SubjectPath:  e.Path,
			Confidence:   0.9,
			Rationale:    "deterministic test finding",
		})
	}
	return out, nil
}

func TestRun_FirstRunCreatesDecisions(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")
	f.createTask(t, "Ship Release")

	eng := f.engine(t, analyzer.Func(oneFindingPerEntity))
	res, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Changed != 2 {
		t.Errorf("changed = %d, want 2 on first run", res.Changed)
	}
	if len(res.DecisionsCreated) != 2 {
		t.Errorf("decisions = %v", res.DecisionsCreated)
	}
	if got := f.decisionFiles(t); len(got) != 2 {
		t.Errorf("decision files = %v", got)
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")

	eng := f.engine(t, analyzer.Func(oneFindingPerEntity))
	if _, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter); err != nil {
		t.Fatal(err)
	}

	res, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed != 0 {
		t.Errorf("changed = %d, want 0 with no filesystem change", res.Changed)
	}
	if len(res.DecisionsCreated) != 0 {
		t.Errorf("second run created decisions: %v", res.DecisionsCreated)
	}
	if got := f.decisionFiles(t); len(got) != 1 {
		t.Errorf("decision files = %v, want the single first-run file", got)
	}
}

func TestRun_SkipsAlreadyPendingSubject(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")

	// A pending decision already exists for the subject.
	decisions := decision.NewStore(f.files, f.logger)
	if _, err := decisions.Create(decision.Draft{
		Title:       "fix: earlier proposal",
		Type:        decision.TypeFrontmatterUpdate,
		SubjectPath: "tasks/review-pr.md",
		Confidence:  0.8,
		Rationale:   "r",
	}); err != nil {
		t.Fatal(err)
	}

	eng := f.engine(t, analyzer.Func(oneFindingPerEntity))
	res, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DecisionsCreated) != 0 || res.SkippedPending != 1 {
		t.Errorf("created = %v, skipped = %d", res.DecisionsCreated, res.SkippedPending)
	}
	if got := f.decisionFiles(t); len(got) != 1 {
		t.Errorf("decision files = %v, want only the pre-existing one", got)
	}
}

func TestRun_CrashRecovery(t *testing.T) {
	// Simulates a process killed after decision creation but before the
	// watermark save: the decision file exists, the watermark does not.
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")

	decisions := decision.NewStore(f.files, f.logger)
	if _, err := decisions.Create(decision.Draft{
		Title:       "fix: tasks/review-pr.md",
		Type:        decision.TypeFrontmatterUpdate,
		SubjectPath: "tasks/review-pr.md",
		Confidence:  0.9,
		Rationale:   "written just before the crash",
	}); err != nil {
		t.Fatal(err)
	}
	if f.files.Exists(watermark.File) {
		t.Fatal("precondition: watermark must not exist")
	}

	eng := f.engine(t, analyzer.Func(oneFindingPerEntity))
	res, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)
	if err != nil {
		t.Fatal(err)
	}
	// The stale watermark makes the entity look changed again, but the
	// reconciled pending set prevents a duplicate decision.
	if res.Changed != 1 {
		t.Errorf("changed = %d, want 1", res.Changed)
	}
	if len(res.DecisionsCreated) != 0 {
		t.Errorf("duplicate decision after crash: %v", res.DecisionsCreated)
	}
	if got := f.decisionFiles(t); len(got) != 1 {
		t.Errorf("decision files = %v", got)
	}
}

func TestRun_AnalyzerFailureStillPersistsWatermark(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")

	failing := analyzer.Func(func(context.Context, analyzer.Request) ([]analyzer.Finding, error) {
		return nil, fmt.Errorf("model unavailable")
	})
	eng := f.engine(t, failing)
	_, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)

	var azErr *apperr.AnalyzerError
	if !errors.As(err, &azErr) {
		t.Fatalf("err = %v, want AnalyzerError", err)
	}
	if !f.files.Exists(watermark.File) {
		t.Error("watermark not persisted after analyzer failure")
	}
	if got := f.decisionFiles(t); len(got) != 0 {
		t.Errorf("decisions created despite analyzer failure: %v", got)
	}
}

func TestRun_ExternalRejectionAllowsReproposal(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")

	eng := f.engine(t, analyzer.Func(oneFindingPerEntity))
	if _, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter); err != nil {
		t.Fatal(err)
	}

	// A human rejects the decision; the entity is also touched so it
	// re-enters the delta.
	paths := f.decisionFiles(t)
	raw, err := f.files.Read(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := f.files.Write(paths[0], []byte(strings.Replace(string(raw), "status: pending", "status: rejected", 1))); err != nil {
		t.Fatal(err)
	}
	taskRaw, err := f.files.Read("tasks/review-pr.md")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.files.Write("tasks/review-pr.md", append(taskRaw, []byte("\nedited\n")...)); err != nil {
		t.Fatal(err)
	}

	res, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DecisionsCreated) != 1 {
		t.Errorf("decisions = %v, want a fresh proposal after rejection", res.DecisionsCreated)
	}
}

func TestRun_ConfidenceThreshold(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")

	low := analyzer.Func(func(_ context.Context, req analyzer.Request) ([]analyzer.Finding, error) {
		var out []analyzer.Finding
		for _, e := range req.Entities {
			out = append(out, analyzer.Finding{
				DecisionType: decision.TypeFrontmatterUpdate,
				Title:        "fix: " + e.Path,
				SubjectPath:  e.Path,
				Confidence:   0.2,
				Rationale:    "barely a hunch",
			})
		}
		return out, nil
	})
	eng := New(f.workspace, f.files, low, f.logger, Options{MinConfidence: 0.5})
	res, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DecisionsCreated) != 0 || res.SkippedLowConf != 1 {
		t.Errorf("created = %v, skipped low-confidence = %d", res.DecisionsCreated, res.SkippedLowConf)
	}
}

func TestRun_InvalidFindingSkippedNotFatal(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")

	bad := analyzer.Func(func(_ context.Context, req analyzer.Request) ([]analyzer.Finding, error) {
		return []analyzer.Finding{
			{DecisionType: "repaint", Title: "nonsense", SubjectPath: "tasks/review-pr.md", Confidence: 0.9},
			{DecisionType: decision.TypeArchive, Title: "archive: tasks/review-pr.md", SubjectPath: "tasks/review-pr.md", Confidence: 0.9, Rationale: "ok"},
		}, nil
	})
	eng := f.engine(t, bad)
	res, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DecisionsCreated) != 1 {
		t.Errorf("decisions = %v, want only the structurally valid finding", res.DecisionsCreated)
	}
}

func TestRun_UnparsableSchemaAborts(t *testing.T) {
	f := setup(t, ": not: yaml: {{{")
	eng := f.engine(t, analyzer.Func(oneFindingPerEntity))
	_, err := eng.Run(context.Background(), analyzer.PhaseSchema)
	var parseErr *apperr.SchemaParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want SchemaParseError", err)
	}
}

func TestRun_WatermarkContents(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")

	eng := f.engine(t, analyzer.Func(oneFindingPerEntity))
	if _, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter); err != nil {
		t.Fatal(err)
	}

	wm := watermark.NewStore(f.files, f.logger).Load()
	if wm.EntityCounts["tasks"] != 1 {
		t.Errorf("entity_counts = %v", wm.EntityCounts)
	}
	rec, ok := wm.Entities["tasks/review-pr.md"]
	if !ok || rec.Checksum == "" {
		t.Errorf("record = %+v", rec)
	}
	if len(wm.PendingDecisions) != 1 {
		t.Errorf("pending_decisions = %v", wm.PendingDecisions)
	}
	if len(wm.Observations) == 0 {
		t.Error("expected a run observation")
	}
}

func TestRun_UnreadableEntityExcludedNotFatal(t *testing.T) {
	f := setup(t, tasksSchema)
	f.createTask(t, "Review PR")
	// A dangling symlink lists as a .md file but cannot be read.
	if err := os.Symlink("no-such-target.md", filepath.Join(f.workspace, "tasks", "broken.md")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	eng := f.engine(t, analyzer.Func(oneFindingPerEntity))
	res, err := eng.Run(context.Background(), analyzer.PhaseFrontmatter)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Changed != 1 {
		t.Errorf("changed = %d, want only the readable task", res.Changed)
	}
	if len(res.DecisionsCreated) != 1 {
		t.Errorf("decisions = %v", res.DecisionsCreated)
	}
	if !f.files.Exists(watermark.File) {
		t.Fatal("watermark not persisted")
	}

	wm := watermark.NewStore(f.files, f.logger).Load()
	if _, ok := wm.Entities["tasks/broken.md"]; ok {
		t.Error("unreadable entity got a watermark record; it would never re-enter the delta")
	}
	if _, ok := wm.Entities["tasks/review-pr.md"]; !ok {
		t.Error("readable entity missing from watermark")
	}
	found := false
	for _, obs := range wm.Observations {
		if strings.Contains(obs, "tasks/broken.md") {
			found = true
		}
	}
	if !found {
		t.Errorf("read failure not observed: %v", wm.Observations)
	}
}
