package entity

import (
	"fmt"
	"path"
	"strings"

	"github.com/starford/curator/internal/apperr"
)

// Archive moves an entity to zzz_archive/<type>/, keeping the file itself
// untouched so the move is a single atomic rename. It refuses while another
// active entity still references the subject by wikilink.
func (s *Store) Archive(typeName, id string) error {
	e, err := s.Get(typeName, id)
	if err != nil {
		return err
	}

	refs, err := s.activeReferences(typeName, id)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return fmt.Errorf("entity %s/%s referenced by %s: %w",
			typeName, id, strings.Join(refs, ", "), apperr.ErrConflict)
	}

	target := path.Join(ArchiveDir, typeName, id+".md")
	if s.files.Exists(target) {
		return fmt.Errorf("archived entity at %s: %w", target, apperr.ErrAlreadyExists)
	}
	return s.files.Move(e.Path, target)
}

// Unarchive moves an entity back from zzz_archive/<type>/ into its type
// directory. A collision with a live entity is an error.
func (s *Store) Unarchive(typeName, id string) error {
	ts, err := s.schema.ResolveType(typeName)
	if err != nil {
		return err
	}
	archived := path.Join(ArchiveDir, typeName, id+".md")
	if !s.files.Exists(archived) {
		return fmt.Errorf("archived entity %s/%s: %w", typeName, id, apperr.ErrNotFound)
	}
	target := path.Join(ts.Directory, id+".md")
	if s.files.Exists(target) {
		return fmt.Errorf("entity at %s: %w", target, apperr.ErrAlreadyExists)
	}
	return s.files.Move(archived, target)
}

// ListArchived returns the archived entities of a type.
func (s *Store) ListArchived(typeName string, limit int) ([]*Entity, error) {
	return s.listDir(typeName, path.Join(ArchiveDir, typeName), ListOptions{
		IncludeArchived: true,
		Limit:           limit,
	})
}

// SearchArchived searches the archive the same way Search searches the live
// corpus.
func (s *Store) SearchArchived(query, typeName string, limit int) ([]*Entity, error) {
	return s.search(query, typeName, limit, ArchiveDir)
}

// activeReferences returns the paths of live entities that reference the
// subject via [[id]] or [[type/id]] wikilinks.
func (s *Store) activeReferences(typeName, id string) ([]string, error) {
	entities, _, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	short := "[[" + id + "]]"
	qualified := "[[" + typeName + "/" + id + "]]"
	var refs []string
	for _, e := range entities {
		if e.Type == typeName && e.ID == id {
			continue
		}
		if e.Status() == StatusArchived {
			continue
		}
		if strings.Contains(e.Body, short) || strings.Contains(e.Body, qualified) {
			refs = append(refs, e.Path)
		}
	}
	return refs, nil
}
