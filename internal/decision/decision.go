// Package decision stores change proposals as markdown+frontmatter files
// awaiting human review.
package decision

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/frontmatter"
)

// Dir is the fixed workspace-relative directory for decision files.
const Dir = "decisions"

// Type is the kind of change a decision proposes.
type Type string

const (
	TypeSchemaUpdate      Type = "schema_update"
	TypeFrontmatterUpdate Type = "frontmatter_update"
	TypeRelocate          Type = "relocate"
	TypeArchive           Type = "archive"
	TypeDelete            Type = "delete"
	TypeMerge             Type = "merge"
)

// Valid reports whether t is a known decision type.
func (t Type) Valid() bool {
	switch t {
	case TypeSchemaUpdate, TypeFrontmatterUpdate, TypeRelocate, TypeArchive, TypeDelete, TypeMerge:
		return true
	}
	return false
}

// Status is the review state of a decision. Only the engine creates
// decisions; approval and rejection happen through external edits, which the
// engine treats as authoritative.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision is one stored proposal.
type Decision struct {
	ID            string // filename without extension
	Path          string
	Title         string
	Status        Status
	Type          Type
	SubjectPath   string
	SuggestedPath string
	Confidence    float64
	CreatedAt     time.Time
	Body          string
}

// SubjectKey identifies the subject for the at-most-one-pending invariant:
// the subject path when the decision has one, otherwise the normalized title
// (which covers schema_update decisions).
func (d *Decision) SubjectKey() string {
	return subjectKey(Type(d.Type), d.SubjectPath, d.Title)
}

// Draft is the input for creating a decision.
type Draft struct {
	Title         string
	Type          Type
	SubjectPath   string
	SuggestedPath string
	Confidence    float64
	// Rationale becomes the body's Reasoning section.
	Rationale string
}

// Validate enforces the structural invariants the engine guarantees
// regardless of what the analyzer emitted.
func (d Draft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.Type, validation.Required,
			validation.In(TypeSchemaUpdate, TypeFrontmatterUpdate, TypeRelocate, TypeArchive, TypeDelete, TypeMerge)),
		validation.Field(&d.Confidence, validation.Min(0.0), validation.Max(1.0)),
	)
}

// SubjectKey identifies the draft's subject; see Decision.SubjectKey.
func (d Draft) SubjectKey() string {
	return subjectKey(d.Type, d.SubjectPath, d.Title)
}

func subjectKey(t Type, subjectPath, title string) string {
	if t != TypeSchemaUpdate && subjectPath != "" {
		return subjectPath
	}
	return "title:" + entity.Slugify(title)
}

// serialize renders a decision to the on-disk metadata+body format. The
// metadata fields are exactly title, status, decision_type, subject_path?,
// suggested_path?, confidence? and created_at.
func serialize(d *Decision) ([]byte, error) {
	fm := frontmatter.NewFields()
	fm.Set("title", d.Title)
	fm.Set("status", string(d.Status))
	fm.Set("decision_type", string(d.Type))
	if d.SubjectPath != "" {
		fm.Set("subject_path", d.SubjectPath)
	}
	if d.SuggestedPath != "" {
		fm.Set("suggested_path", d.SuggestedPath)
	}
	if d.Confidence > 0 {
		fm.Set("confidence", d.Confidence)
	}
	fm.Set("created_at", d.CreatedAt.Format(time.RFC3339))
	return frontmatter.Serialize(fm, d.Body)
}

// parse reads a decision back from its file form.
func parse(id, path string, raw []byte) (*Decision, error) {
	fm, body, warn := frontmatter.Parse(raw)
	if warn != nil {
		return nil, fmt.Errorf("decision %s: %s", path, warn.Reason)
	}
	d := &Decision{
		ID:            id,
		Path:          path,
		Title:         fm.GetString("title"),
		Status:        Status(fm.GetString("status")),
		Type:          Type(fm.GetString("decision_type")),
		SubjectPath:   fm.GetString("subject_path"),
		SuggestedPath: fm.GetString("suggested_path"),
		Body:          body,
	}
	if v, ok := fm.Get("confidence"); ok {
		switch n := v.(type) {
		case float64:
			d.Confidence = n
		case int:
			d.Confidence = float64(n)
		}
	}
	if created := fm.GetString("created_at"); created != "" {
		if at, err := time.Parse(time.RFC3339, created); err == nil {
			d.CreatedAt = at
		}
	}
	return d, nil
}

// renderBody builds the conventional decision body with a Reasoning section.
func renderBody(rationale string) string {
	var b strings.Builder
	b.WriteString("## Reasoning\n\n")
	b.WriteString(strings.TrimSpace(rationale))
	b.WriteString("\n")
	return b.String()
}
