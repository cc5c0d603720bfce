// Package watermark persists scan progress and per-entity observations
// between maintenance runs.
package watermark

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/curator/internal/storage"
)

// File is the fixed workspace-relative path of the watermark file.
const File = ".curator/watermark.yaml"

// Record is what the last scan knew about one entity.
type Record struct {
	UpdatedAt      time.Time `yaml:"updated_at"`
	Checksum       string    `yaml:"checksum"`
	Classification string    `yaml:"classification,omitempty"`
	Issues         []string  `yaml:"issues,omitempty"`
}

// Watermark is the workspace-wide scan state. The pending_decisions set is
// only a cache: disk is ground truth, and every run recomputes it from the
// actual pending decision files.
type Watermark struct {
	LastScan         time.Time         `yaml:"last_scan"`
	EntityCounts     map[string]int    `yaml:"entity_counts"`
	Entities         map[string]Record `yaml:"entities"`
	PendingDecisions []string          `yaml:"pending_decisions"`
	Observations     []string          `yaml:"observations"`
}

// New returns an empty watermark.
func New() *Watermark {
	return &Watermark{
		EntityCounts: map[string]int{},
		Entities:     map[string]Record{},
	}
}

// Observe appends a free-text note to the watermark.
func (w *Watermark) Observe(note string) {
	w.Observations = append(w.Observations, note)
}

// Store loads and saves the watermark file.
type Store struct {
	files  storage.Provider
	logger *slog.Logger
}

// NewStore creates a watermark store over the workspace files.
func NewStore(files storage.Provider, logger *slog.Logger) *Store {
	return &Store{files: files, logger: logger}
}

// Load returns the persisted watermark. It never fails the run: an absent
// file yields an empty watermark, and a corrupt one is logged and replaced
// by an empty watermark (the next full scan self-heals).
func (s *Store) Load() *Watermark {
	if !s.files.Exists(File) {
		return New()
	}
	data, err := s.files.Read(File)
	if err != nil {
		s.logger.Warn("watermark unreadable, starting empty",
			slog.String("path", File), slog.String("error", err.Error()))
		return New()
	}
	w := New()
	if err := yaml.Unmarshal(data, w); err != nil {
		s.logger.Warn("watermark corrupt, starting empty",
			slog.String("path", File), slog.String("error", err.Error()))
		return New()
	}
	if w.EntityCounts == nil {
		w.EntityCounts = map[string]int{}
	}
	if w.Entities == nil {
		w.Entities = map[string]Record{}
	}
	return w
}

// Save persists the watermark atomically, so a killed process never leaves a
// partially written file behind.
func (s *Store) Save(w *Watermark) error {
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("watermark: marshal: %w", err)
	}
	if err := s.files.Write(File, data); err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	return nil
}
