package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/curator/internal/decision"
	"github.com/starford/curator/internal/entity"
)

// minTypeSample is how many files a directory needs before the schema rules
// will propose declaring it as an entity type. Patterns inferred from one or
// two files are noise.
const minTypeSample = 3

// Rules is the built-in deterministic analyzer. It covers the mechanical
// checks that need no semantic judgment: schema gaps, required-field and
// enum violations, malformed metadata, and obvious archive candidates.
type Rules struct{}

// Analyze emits findings for the requested phase.
func (Rules) Analyze(_ context.Context, req Request) ([]Finding, error) {
	switch req.Phase {
	case PhaseSchema:
		return schemaFindings(req), nil
	case PhaseFrontmatter:
		return frontmatterFindings(req), nil
	case PhaseStructure:
		return structureFindings(req), nil
	}
	return nil, fmt.Errorf("unknown phase %q", req.Phase)
}

// schemaFindings proposes declaring entity types for undeclared directories
// with enough files to show a pattern.
func schemaFindings(req Request) []Finding {
	declared := map[string]bool{}
	for _, name := range req.Schema.Types() {
		declared[name] = true
	}

	counts := map[string]int{}
	for _, e := range req.Entities {
		if !declared[e.Type] {
			counts[e.Type]++
		}
	}

	var out []Finding
	for _, e := range req.Entities {
		typeName := e.Type
		if declared[typeName] || counts[typeName] < minTypeSample {
			continue
		}
		declared[typeName] = true // one finding per type
		out = append(out, Finding{
			DecisionType: decision.TypeSchemaUpdate,
			Title:        fmt.Sprintf("schema: add %s entity type", typeName),
			Confidence:   0.8,
			Rationale: fmt.Sprintf(
				"Found %d markdown files in %s/ with no schema declaration. Declaring the type lets creates validate required fields and defaults.",
				counts[typeName], typeName),
		})
	}
	return out
}

// frontmatterFindings reports malformed metadata, missing required fields,
// and enum violations against the loaded schema.
func frontmatterFindings(req Request) []Finding {
	var out []Finding
	for _, e := range req.Entities {
		if e.Malformed {
			out = append(out, Finding{
				DecisionType: decision.TypeFrontmatterUpdate,
				Title:        fmt.Sprintf("fix: repair malformed frontmatter in %s", e.Path),
				SubjectPath:  e.Path,
				Confidence:   0.95,
				Rationale:    "The metadata block could not be parsed; the whole file is currently treated as body.",
			})
			continue
		}

		ts, err := req.Schema.ResolveType(e.Type)
		if err != nil {
			continue
		}

		var problems []string
		for _, field := range ts.Required {
			if _, ok := e.Frontmatter.Get(field); !ok {
				problems = append(problems, fmt.Sprintf("missing required field %q", field))
			}
		}
		for field, allowed := range ts.Enums {
			value, ok := e.Frontmatter.Get(field)
			if !ok {
				continue
			}
			got := fmt.Sprintf("%v", value)
			if !contains(allowed, got) {
				problems = append(problems, fmt.Sprintf("field %q value %q not in %v", field, got, allowed))
			}
		}
		if len(problems) == 0 {
			continue
		}
		out = append(out, Finding{
			DecisionType: decision.TypeFrontmatterUpdate,
			Title:        fmt.Sprintf("fix: frontmatter of %s", e.Path),
			SubjectPath:  e.Path,
			Confidence:   0.9,
			Rationale:    strings.Join(problems, "; "),
		})
	}
	return out
}

// structureFindings proposes archiving entities that are finished and keep a
// terminal status.
func structureFindings(req Request) []Finding {
	var out []Finding
	for _, e := range req.Entities {
		status := e.Status()
		if status != "done" && status != "cancelled" {
			continue
		}
		out = append(out, Finding{
			DecisionType:  decision.TypeArchive,
			Title:         fmt.Sprintf("archive: %s", e.Path),
			SubjectPath:   e.Path,
			SuggestedPath: strings.Join([]string{entity.ArchiveDir, e.Type, e.ID + ".md"}, "/"),
			Confidence:    0.6,
			Rationale:     fmt.Sprintf("Status is %q; finished entities belong in the archive.", status),
		})
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
