package index

import (
	"log/slog"

	"github.com/starford/curator/internal/entity"
)

// Sync walks the workspace and brings the index up to date:
//   - new/changed entities are upserted (checksum comparison skips the rest)
//   - entities removed from disk are deleted from the index
func Sync(db *DB, store *entity.Store, logger *slog.Logger) error {
	entities, issues, err := store.ListAll()
	if err != nil {
		return err
	}
	for path, issue := range issues {
		logger.Warn("sync: entity unreadable, not indexed",
			slog.String("path", path), slog.String("error", issue))
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		disk[e.Path] = struct{}{}

		if checksums[e.Path] == e.Checksum {
			continue
		}
		if err := db.Upsert(rowFor(e), e.Body); err != nil {
			logger.Warn("sync: index failed", slog.String("path", e.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", e.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.Delete(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

func rowFor(e *entity.Entity) Row {
	return Row{
		Path:      e.Path,
		Type:      e.Type,
		ID:        e.ID,
		Title:     e.Title(),
		Status:    e.Status(),
		Checksum:  e.Checksum,
		UpdatedAt: e.UpdatedAt,
	}
}
