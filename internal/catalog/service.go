// Package catalog implements the record lifecycle on top of the SQLite store
// and the upload directory: validation, favorites, deletion with file
// cleanup, and the derived age and statistics values.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediacatalog/internal/files"
	"mediacatalog/internal/media"
	"mediacatalog/internal/metrics"
	"mediacatalog/internal/storage"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("media not found")
	ErrStorage    = errors.New("storage error")
)

type CreateInput struct {
	Name       string
	URI        string
	MimeType   string
	Cover      *string
	IsFavorite bool
	Duration   int64
	FileSize   int64
	DeviceID   *string
	DeviceName *string
}

// UpdateInput changes the mutable fields of a record. Nil fields keep their
// current value.
type UpdateInput struct {
	Name       *string
	IsFavorite *bool
}

type Service struct {
	store  *storage.Store
	files  *files.Store
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock replaces the clock used for age computation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store *storage.Store, fileStore *files.Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		files:  fileStore,
		logger: logger.With().Str("component", "catalog").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) List(ctx context.Context, f storage.Filter) ([]storage.MediaRecord, error) {
	records, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %w", ErrStorage, err)
	}

	now := s.now()
	for i := range records {
		decorate(&records[i], now)
	}
	return records, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*storage.MediaRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get record %d: %w", ErrStorage, id, err)
	}

	decorate(rec, s.now())
	return rec, nil
}

// Create stores a record whose uri is supplied by the caller. An empty
// mimeType is inferred from the uri.
func (s *Service) Create(ctx context.Context, in CreateInput) (*storage.MediaRecord, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.URI = strings.TrimSpace(in.URI)
	if in.Name == "" || in.URI == "" {
		metrics.RecordOperation("create", "invalid")
		return nil, fmt.Errorf("%w: name and uri are required", ErrValidation)
	}
	if in.Duration < 0 || in.FileSize < 0 {
		metrics.RecordOperation("create", "invalid")
		return nil, fmt.Errorf("%w: duration and fileSize must not be negative", ErrValidation)
	}

	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" {
		mimeType = media.GetContentType(in.URI)
	}

	id, err := s.store.Create(ctx, storage.NewRecord{
		Name:       in.Name,
		URI:        in.URI,
		MimeType:   mimeType,
		Cover:      in.Cover,
		IsFavorite: in.IsFavorite,
		Duration:   in.Duration,
		FileSize:   in.FileSize,
		DeviceID:   in.DeviceID,
		DeviceName: in.DeviceName,
	})
	if err != nil {
		metrics.RecordOperation("create", "error")
		return nil, fmt.Errorf("%w: create record: %w", ErrStorage, err)
	}

	metrics.RecordOperation("create", "success")
	s.logger.Debug().Int64("id", id).Str("uri", in.URI).Msg("record created")

	return s.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*storage.MediaRecord, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.RecordOperation("update", "not_found")
		}
		return nil, err
	}

	name := current.Name
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		if name == "" {
			metrics.RecordOperation("update", "invalid")
			return nil, fmt.Errorf("%w: name must not be empty", ErrValidation)
		}
	}
	isFavorite := current.IsFavorite
	if in.IsFavorite != nil {
		isFavorite = *in.IsFavorite
	}

	if err := s.store.Update(ctx, id, name, isFavorite); err != nil {
		metrics.RecordOperation("update", "error")
		return nil, fmt.Errorf("%w: update record %d: %w", ErrStorage, id, err)
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.RecordOperation("update", "not_found")
		}
		return nil, err
	}

	metrics.RecordOperation("update", "success")
	return updated, nil
}

// ToggleFavorite inverts the favorite flag and returns the new value.
func (s *Service) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	fav, err := s.store.ToggleFavorite(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.RecordOperation("toggle", "not_found")
		return false, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		metrics.RecordOperation("toggle", "error")
		return false, fmt.Errorf("%w: toggle favorite %d: %w", ErrStorage, id, err)
	}

	metrics.RecordOperation("toggle", "success")
	return fav, nil
}

// Delete removes the record and, when its uri points at an uploaded file,
// the file as well. Deleting a missing record succeeds.
func (s *Service) Delete(ctx context.Context, id int64) error {
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.RecordOperation("delete", "not_found")
		s.logger.Debug().Int64("id", id).Msg("delete of missing record ignored")
		return nil
	}
	if err != nil {
		metrics.RecordOperation("delete", "error")
		return fmt.Errorf("%w: get record %d: %w", ErrStorage, id, err)
	}

	fileName, owned := files.NameFromURI(rec.URI)

	var stash *files.Stash
	err = s.store.DeleteTx(ctx, id, func() error {
		if !owned || s.files == nil {
			return nil
		}
		st, err := s.files.Stash(fileName)
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Int64("id", id).Str("file", fileName).Msg("stored file already missing")
			return nil
		}
		if err != nil {
			return err
		}
		stash = st
		return nil
	})

	if errors.Is(err, storage.ErrNotFound) {
		metrics.RecordOperation("delete", "not_found")
		return nil
	}
	if err != nil {
		if stash != nil {
			if rerr := stash.Restore(); rerr != nil {
				s.logger.Error().Err(rerr).Str("file", fileName).Msg("failed to restore stored file")
			}
		}
		metrics.RecordOperation("delete", "error")
		return fmt.Errorf("%w: delete record %d: %w", ErrStorage, id, err)
	}

	if stash != nil {
		if err := stash.Discard(); err != nil {
			s.logger.Warn().Err(err).Str("file", fileName).Msg("failed to remove stashed file")
		}
	}

	metrics.RecordOperation("delete", "success")
	s.logger.Debug().Int64("id", id).Bool("file_removed", stash != nil).Msg("record deleted")
	return nil
}

// MarkAccessed stamps lastAccessed on records referring to a stored file.
func (s *Service) MarkAccessed(ctx context.Context, fileName string) {
	if err := s.store.TouchAccessed(ctx, files.URI(fileName)); err != nil {
		s.logger.Warn().Err(err).Str("file", fileName).Msg("failed to update last accessed")
	}
}

// Stats aggregates over the whole catalog.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	records, err := s.store.List(ctx, storage.Filter{})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: list records: %w", ErrStorage, err)
	}

	now := s.now()
	for i := range records {
		decorate(&records[i], now)
	}

	stats := ComputeStats(records)
	metrics.SetCatalogRecords(stats.Total)
	return stats, nil
}

// decorate fills read-time values: the age in days and, for legacy rows
// that lack one, an inferred mimeType.
func decorate(rec *storage.MediaRecord, now time.Time) {
	rec.AgeDays = AgeDays(rec.DateAdded, now)
	if rec.MimeType == "" {
		rec.MimeType = media.GetContentType(rec.URI)
	}
}
