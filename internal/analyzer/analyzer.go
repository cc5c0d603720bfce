// Package analyzer defines the pluggable capability that inspects changed
// entities and proposes findings. The maintenance engine trusts the
// analyzer's judgment but independently re-validates every finding's
// structure before turning it into a decision.
package analyzer

import (
	"context"
	"fmt"

	"github.com/starford/curator/internal/decision"
	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/schema"
)

// Phase is one of the three ordered maintenance categories.
type Phase string

const (
	PhaseSchema      Phase = "schema"
	PhaseFrontmatter Phase = "frontmatter"
	PhaseStructure   Phase = "structure"
)

// ParsePhase validates a phase name from the CLI.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseSchema, PhaseFrontmatter, PhaseStructure:
		return Phase(s), nil
	}
	return "", fmt.Errorf("unknown phase %q (want schema, frontmatter, or structure)", s)
}

// Finding is one candidate issue emitted by an analyzer.
type Finding struct {
	DecisionType  decision.Type `json:"decision_type"`
	Title         string        `json:"title"`
	SubjectPath   string        `json:"subject_path,omitempty"`
	SuggestedPath string        `json:"suggested_path,omitempty"`
	Confidence    float64       `json:"confidence"`
	Rationale     string        `json:"rationale"`
}

// Request is the input contract: the changed entities, the loaded schema,
// the already-pending subject keys, and the phase being run.
type Request struct {
	Phase           Phase
	Entities        []*entity.Entity
	Schema          *schema.Definition
	PendingSubjects map[string]bool
}

// Analyzer is the external capability contract.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) ([]Finding, error)
}

// Func adapts a function to the Analyzer interface; handy for tests.
type Func func(ctx context.Context, req Request) ([]Finding, error)

func (f Func) Analyze(ctx context.Context, req Request) ([]Finding, error) {
	return f(ctx, req)
}
