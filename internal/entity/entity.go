// Package entity implements schema-aware CRUD over the typed markdown
// records stored in a workspace.
package entity

import (
	"regexp"
	"strings"
	"time"

	"github.com/starford/curator/internal/frontmatter"
)

// ArchiveDir is the workspace directory that holds archived entities,
// mirrored per type (zzz_archive/tasks/..., zzz_archive/notes/...).
const ArchiveDir = "zzz_archive"

// StatusArchived is the frontmatter status that hides an entity from
// default listings.
const StatusArchived = "archived"

// Entity is one typed record: a markdown file with a frontmatter block.
type Entity struct {
	Type        string
	ID          string // filename without extension
	Path        string // relative to workspace root
	Frontmatter *frontmatter.Fields
	Body        string
	Checksum    string
	UpdatedAt   time.Time
	// Malformed is set when the metadata block could not be parsed and the
	// whole file was read as body.
	Malformed bool
}

// Title returns the display title: frontmatter title, then name, then the id.
func (e *Entity) Title() string {
	if t := e.Frontmatter.GetString("title"); t != "" {
		return t
	}
	if n := e.Frontmatter.GetString("name"); n != "" {
		return n
	}
	return e.ID
}

// Status returns the frontmatter status field, or "" when unset.
func (e *Entity) Status() string {
	return e.Frontmatter.GetString("status")
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and reduces it to hyphen-separated alphanumerics.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
