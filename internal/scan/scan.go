// Package scan computes the incremental delta between the entities on disk
// and the last persisted watermark.
package scan

import (
	"sort"

	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/watermark"
)

// Delta partitions the current entity set against the watermark.
type Delta struct {
	Changed   []*entity.Entity
	Unchanged []*entity.Entity
	// Deleted holds watermark paths that no longer exist on disk.
	Deleted []string
}

// ComputeDelta classifies every current entity. An entity is changed when it
// has no prior record, its modified time is newer than the recorded one, or
// its content hash differs from the recorded one — the hash check catches
// edits hidden by coarse mtime resolution or clock skew. On an empty
// watermark every entity is changed.
func ComputeDelta(current []*entity.Entity, w *watermark.Watermark) Delta {
	var d Delta
	seen := make(map[string]bool, len(current))

	for _, e := range current {
		seen[e.Path] = true
		rec, ok := w.Entities[e.Path]
		switch {
		case !ok:
			d.Changed = append(d.Changed, e)
		case e.UpdatedAt.After(rec.UpdatedAt):
			d.Changed = append(d.Changed, e)
		case e.Checksum != rec.Checksum:
			d.Changed = append(d.Changed, e)
		default:
			d.Unchanged = append(d.Unchanged, e)
		}
	}

	for path := range w.Entities {
		if !seen[path] {
			d.Deleted = append(d.Deleted, path)
		}
	}
	sort.Strings(d.Deleted)
	return d
}
