// Package engine orchestrates one maintenance phase: reconcile, scan,
// analyze, issue decisions, persist the watermark.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/curator/internal/analyzer"
	"github.com/starford/curator/internal/apperr"
	"github.com/starford/curator/internal/decision"
	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/scan"
	"github.com/starford/curator/internal/schema"
	"github.com/starford/curator/internal/storage"
	"github.com/starford/curator/internal/watermark"
)

// Options tune one engine instance.
type Options struct {
	// MinConfidence discards findings below the threshold before they become
	// decisions. Zero keeps everything.
	MinConfidence float64
	// BatchSize is how many changed entities go into one analyzer call.
	BatchSize int
	// Workers bounds concurrent analyzer calls. Findings are still
	// aggregated serially, in batch order.
	Workers int
}

const (
	defaultBatchSize = 25
	defaultWorkers   = 4
)

// Engine runs maintenance phases over one workspace.
type Engine struct {
	workspace string
	files     storage.Provider
	analyzer  analyzer.Analyzer
	logger    *slog.Logger
	opts      Options

	// Now is the clock used for the watermark's last_scan.
	Now func() time.Time
}

// New creates an engine. The analyzer is the external semantic capability;
// the engine only enforces structural invariants around it.
func New(workspacePath string, files storage.Provider, az analyzer.Analyzer, logger *slog.Logger, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Engine{
		workspace: workspacePath,
		files:     files,
		analyzer:  az,
		logger:    logger,
		opts:      opts,
		Now:       time.Now,
	}
}

// Result summarizes one phase run.
type Result struct {
	Phase            analyzer.Phase
	Changed          int
	Unchanged        int
	Deleted          int
	DecisionsCreated []string
	SkippedPending   int
	SkippedLowConf   int
}

// Run executes one phase. The schema is reloaded and the pending decision
// set reconciled from disk first, so externally approved, rejected, or
// deleted decisions — and a crash after decision creation on a previous run
// — are absorbed before any new decision is written. An analyzer failure
// aborts decision creation but the watermark progress computed so far is
// still persisted, leaving the phase safely retryable.
func (e *Engine) Run(ctx context.Context, phase analyzer.Phase) (*Result, error) {
	def, err := schema.Load(e.workspace)
	if err != nil {
		return nil, err
	}

	decisions := decision.NewStore(e.files, e.logger)
	pendingDecisions, err := decisions.ListPending()
	if err != nil {
		return nil, fmt.Errorf("reconcile decisions: %w", err)
	}
	pending := make(map[string]bool, len(pendingDecisions))
	pendingSchema := 0
	for _, d := range pendingDecisions {
		pending[d.SubjectKey()] = true
		if d.Type == decision.TypeSchemaUpdate {
			pendingSchema++
		}
	}
	if phase != analyzer.PhaseSchema && pendingSchema > 0 {
		// Phase ordering is operator discipline, not enforced here: the
		// engine cannot know whether a human already reviewed them.
		e.logger.Warn("running with schema decisions still pending",
			slog.String("phase", string(phase)), slog.Int("pending_schema_decisions", pendingSchema))
	}

	wmStore := watermark.NewStore(e.files, e.logger)
	wm := wmStore.Load()

	store := entity.NewStore(e.files, def)
	entities, readIssues, err := store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	for path, issue := range readIssues {
		e.logger.Warn("entity unreadable, excluded from delta",
			slog.String("path", path), slog.String("error", issue))
	}

	delta := scan.ComputeDelta(entities, wm)
	result := &Result{
		Phase:     phase,
		Changed:   len(delta.Changed),
		Unchanged: len(delta.Unchanged),
		Deleted:   len(delta.Deleted),
	}
	e.logger.Info("delta computed",
		slog.String("phase", string(phase)),
		slog.Int("changed", result.Changed),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("deleted", result.Deleted))

	findings, analyzeErr := e.analyze(ctx, phase, def, delta.Changed, pending)
	if analyzeErr == nil {
		e.issueDecisions(decisions, findings, pending, result)
	} else {
		e.logger.Error("analyzer failed, skipping decision creation",
			slog.String("phase", string(phase)), slog.String("error", analyzeErr.Error()))
	}

	e.updateWatermark(wm, phase, entities, readIssues, pending, result)
	if err := wmStore.Save(wm); err != nil {
		return result, err
	}

	if analyzeErr != nil {
		return result, &apperr.AnalyzerError{Phase: string(phase), Err: analyzeErr}
	}
	return result, nil
}

// analyze fans batches of changed entities out to the analyzer. Independent
// batches may run in parallel; the findings are flattened back in batch
// order so decision creation stays deterministic.
func (e *Engine) analyze(ctx context.Context, phase analyzer.Phase, def *schema.Definition, changed []*entity.Entity, pending map[string]bool) ([]analyzer.Finding, error) {
	if len(changed) == 0 {
		return nil, nil
	}

	var batches [][]*entity.Entity
	for start := 0; start < len(changed); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(changed) {
			end = len(changed)
		}
		batches = append(batches, changed[start:end])
	}

	results := make([][]analyzer.Finding, len(batches))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, batch := range batches {
		g.Go(func() error {
			findings, err := e.analyzer.Analyze(gCtx, analyzer.Request{
				Phase:           phase,
				Entities:        batch,
				Schema:          def,
				PendingSubjects: pending,
			})
			if err != nil {
				return err
			}
			results[i] = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []analyzer.Finding
	for _, findings := range results {
		out = append(out, findings...)
	}
	return out, nil
}

// issueDecisions turns findings into decision files, skipping subjects that
// are already pending and findings below the confidence threshold. The
// store re-validates against disk, so a duplicate slipping past the cached
// set is downgraded to a logged skip, never a second file.
func (e *Engine) issueDecisions(decisions *decision.Store, findings []analyzer.Finding, pending map[string]bool, result *Result) {
	for _, f := range findings {
		if f.Confidence < e.opts.MinConfidence {
			result.SkippedLowConf++
			e.logger.Info("finding below confidence threshold",
				slog.String("title", f.Title), slog.Float64("confidence", f.Confidence))
			continue
		}
		draft := decision.Draft{
			Title:         f.Title,
			Type:          f.DecisionType,
			SubjectPath:   f.SubjectPath,
			SuggestedPath: f.SuggestedPath,
			Confidence:    f.Confidence,
			Rationale:     f.Rationale,
		}
		key := draft.SubjectKey()
		if pending[key] {
			result.SkippedPending++
			e.logger.Info("subject already pending, skipping finding",
				slog.String("subject", key), slog.String("title", f.Title))
			continue
		}

		d, err := decisions.Create(draft)
		if err != nil {
			if errors.Is(err, apperr.ErrDuplicatePending) {
				result.SkippedPending++
				e.logger.Warn("duplicate pending decision on disk, skipping",
					slog.String("subject", key))
				continue
			}
			e.logger.Warn("finding rejected",
				slog.String("title", f.Title), slog.String("error", err.Error()))
			continue
		}
		pending[key] = true
		result.DecisionsCreated = append(result.DecisionsCreated, d.Path)
		e.logger.Info("decision created",
			slog.String("path", d.Path), slog.String("subject", key))
	}
}

// updateWatermark rewrites the scan state: fresh per-entity records (paths
// that failed to read are dropped so they re-enter the delta next run), new
// counts, the refreshed pending cache, and a run observation.
func (e *Engine) updateWatermark(wm *watermark.Watermark, phase analyzer.Phase, entities []*entity.Entity, readIssues map[string]string, pending map[string]bool, result *Result) {
	wm.LastScan = e.Now()
	wm.EntityCounts = map[string]int{}
	wm.Entities = map[string]watermark.Record{}

	for _, ent := range entities {
		wm.EntityCounts[ent.Type]++
		rec := watermark.Record{
			UpdatedAt:      ent.UpdatedAt,
			Checksum:       ent.Checksum,
			Classification: ent.Type,
		}
		if ent.Malformed {
			rec.Issues = append(rec.Issues, "malformed frontmatter")
		}
		wm.Entities[ent.Path] = rec
	}

	wm.PendingDecisions = wm.PendingDecisions[:0]
	for key := range pending {
		wm.PendingDecisions = append(wm.PendingDecisions, key)
	}
	sort.Strings(wm.PendingDecisions)

	wm.Observations = nil
	for path, issue := range readIssues {
		wm.Observe(fmt.Sprintf("read failed, will retry: %s (%s)", path, issue))
	}
	wm.Observe(fmt.Sprintf("%s phase at %s: %d changed, %d deleted, %d decisions created, %d skipped pending",
		phase, wm.LastScan.Format(time.RFC3339), result.Changed, result.Deleted,
		len(result.DecisionsCreated), result.SkippedPending))
}
