package decision

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/curator/internal/apperr"
	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/storage"
)

// Store provides CRUD over the decision files in decisions/. Disk is the
// final authority for the duplicate-pending invariant: Create re-validates
// against the files even when the caller already reconciled.
type Store struct {
	files  storage.Provider
	logger *slog.Logger

	// Now is the clock used for created_at stamps.
	Now func() time.Time
}

// NewStore creates a decision store over the workspace files.
func NewStore(files storage.Provider, logger *slog.Logger) *Store {
	return &Store{files: files, logger: logger, Now: time.Now}
}

// Create validates the draft, re-checks the pending set on disk, and writes
// a new pending decision file. A pending decision for the same subject key
// yields ErrDuplicatePending.
func (s *Store) Create(draft Draft) (*Decision, error) {
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("decision draft: %w", err)
	}

	pending, err := s.Reconcile()
	if err != nil {
		return nil, err
	}
	key := draft.SubjectKey()
	if pending[key] {
		return nil, fmt.Errorf("subject %s: %w", key, apperr.ErrDuplicatePending)
	}

	id, relPath, err := s.uniquePath(draft.Title)
	if err != nil {
		return nil, err
	}
	d := &Decision{
		ID:            id,
		Path:          relPath,
		Title:         draft.Title,
		Status:        StatusPending,
		Type:          draft.Type,
		SubjectPath:   draft.SubjectPath,
		SuggestedPath: draft.SuggestedPath,
		Confidence:    draft.Confidence,
		CreatedAt:     s.Now(),
		Body:          renderBody(draft.Rationale),
	}
	raw, err := serialize(d)
	if err != nil {
		return nil, err
	}
	if err := s.files.Write(relPath, raw); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns every parseable decision on disk. Unparseable files are
// logged and skipped, never deleted.
func (s *Store) List() ([]*Decision, error) {
	infos, err := s.files.List(Dir)
	if err != nil {
		return nil, err
	}
	var out []*Decision
	for _, info := range infos {
		if info.Issue != "" {
			s.logger.Warn("decision unreadable",
				slog.String("path", info.Path), slog.String("error", info.Issue))
			continue
		}
		raw, err := s.files.Read(info.Path)
		if err != nil {
			s.logger.Warn("decision unreadable",
				slog.String("path", info.Path), slog.String("error", err.Error()))
			continue
		}
		id := strings.TrimSuffix(path.Base(info.Path), ".md")
		d, err := parse(id, info.Path, raw)
		if err != nil {
			s.logger.Warn("decision unparsable",
				slog.String("path", info.Path), slog.String("error", err.Error()))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ListPending returns the decisions whose status is pending.
func (s *Store) ListPending() ([]*Decision, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*Decision
	for _, d := range all {
		if d.Status == StatusPending {
			out = append(out, d)
		}
	}
	return out, nil
}

// Reconcile re-derives the true pending subject-key set from the files on
// disk, absorbing decisions a human has approved, rejected, or deleted since
// the last run.
func (s *Store) Reconcile() (map[string]bool, error) {
	pending, err := s.ListPending()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(pending))
	for _, d := range pending {
		keys[d.SubjectKey()] = true
	}
	return keys, nil
}

// uniquePath derives a fresh decision filename from the title, suffixing a
// counter when the slug is already taken (a rejected decision keeps its
// file, so same-titled proposals can recur).
func (s *Store) uniquePath(title string) (string, string, error) {
	base := entity.Slugify(title)
	if base == "" {
		return "", "", fmt.Errorf("decision title %q yields an empty slug", title)
	}
	id := base
	for n := 2; ; n++ {
		relPath := path.Join(Dir, id+".md")
		if !s.files.Exists(relPath) {
			return id, relPath, nil
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}
