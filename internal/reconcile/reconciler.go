// Package reconcile brings the uploads directory back in line with the
// catalog after crashes between a file write and its record insert, or
// between a stash and its discard.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediacatalog/internal/files"
	"mediacatalog/internal/metrics"
	"mediacatalog/internal/storage"
)

var ErrRunning = errors.New("reconcile already running")

// Report summarizes one reconciliation pass.
type Report struct {
	OrphansRemoved  int
	StashesRestored int
	StashesRemoved  int
	TempsRemoved    int
	Dangling        int
}

type Reconciler struct {
	store  *storage.Store
	files  *files.Store
	grace  time.Duration
	logger zerolog.Logger
	now    func() time.Time

	running bool
	mu      sync.Mutex
}

// New creates a Reconciler. Entries younger than grace are left alone, since
// they may belong to an upload or delete still in flight.
func New(store *storage.Store, fileStore *files.Store, grace time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		files:  fileStore,
		grace:  grace,
		logger: logger.With().Str("component", "reconcile").Logger(),
		now:    time.Now,
	}
}

func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Report{}, ErrRunning
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	var report Report

	uris, err := r.store.URIs(ctx)
	if err != nil {
		return report, fmt.Errorf("list referenced uris: %w", err)
	}
	referenced := make(map[string]bool, len(uris))
	for _, uri := range uris {
		if name, ok := files.NameFromURI(uri); ok {
			referenced[name] = true
		}
	}

	entries, err := r.files.List()
	if err != nil {
		return report, fmt.Errorf("list uploads: %w", err)
	}

	cutoff := r.now().Add(-r.grace)
	present := make(map[string]bool, len(entries))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		switch {
		case files.IsStash(e.Name):
			if e.ModTime.After(cutoff) {
				continue
			}
			r.reconcileStash(e.Name, referenced, &report)

		case e.Name[0] == '.':
			if e.ModTime.After(cutoff) {
				continue
			}
			if err := r.files.RemoveEntry(e.Name); err != nil {
				r.logger.Error().Err(err).Str("file", e.Name).Msg("failed to remove temporary file")
				continue
			}
			report.TempsRemoved++
			r.logger.Debug().Str("file", e.Name).Msg("removed stale temporary file")

		default:
			present[e.Name] = true
			if referenced[e.Name] || e.ModTime.After(cutoff) {
				continue
			}
			if err := r.files.Remove(e.Name); err != nil {
				r.logger.Error().Err(err).Str("file", e.Name).Msg("failed to remove orphaned upload")
				continue
			}
			report.OrphansRemoved++
			r.logger.Debug().Str("file", e.Name).Int64("size", e.Size).Msg("removed orphaned upload")
		}
	}

	for name := range referenced {
		if present[name] {
			continue
		}
		if _, err := r.files.Stat(name); errors.Is(err, os.ErrNotExist) {
			report.Dangling++
			r.logger.Warn().Str("uri", files.URI(name)).Msg("record references a missing upload")
		}
	}

	metrics.RecordOrphansRemoved(report.OrphansRemoved)

	if report != (Report{}) {
		r.logger.Info().
			Int("orphans", report.OrphansRemoved).
			Int("stashes_restored", report.StashesRestored).
			Int("stashes_removed", report.StashesRemoved).
			Int("temps", report.TempsRemoved).
			Int("dangling", report.Dangling).
			Msg("reconcile completed")
	}

	return report, nil
}

// reconcileStash restores a stash whose record survived (the row delete was
// rolled back) and removes it otherwise.
func (r *Reconciler) reconcileStash(stashName string, referenced map[string]bool, report *Report) {
	name, ok := files.StashedName(stashName)
	if ok && referenced[name] {
		if _, err := r.files.Stat(name); errors.Is(err, os.ErrNotExist) {
			if err := r.files.Unstash(stashName); err != nil {
				r.logger.Error().Err(err).Str("file", stashName).Msg("failed to restore stashed upload")
				return
			}
			report.StashesRestored++
			r.logger.Info().Str("file", name).Msg("restored stashed upload")
			return
		}
	}

	if err := r.files.RemoveEntry(stashName); err != nil {
		r.logger.Error().Err(err).Str("file", stashName).Msg("failed to remove stash")
		return
	}
	report.StashesRemoved++
}
