package streaming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"mediacatalog/internal/cache"
	"mediacatalog/internal/files"
	"mediacatalog/internal/media"
	"mediacatalog/internal/metrics"
)

var ErrNotFound = errors.New("file not found")

// AccessRecorder is notified whenever a stored file is served.
type AccessRecorder interface {
	MarkAccessed(ctx context.Context, fileName string)
}

type Handler struct {
	files    *files.Store
	cache    *cache.BlobCache
	recorder AccessRecorder
	logger   zerolog.Logger
}

// NewHandler creates a file handler. blobs and recorder may be nil.
func NewHandler(fileStore *files.Store, blobs *cache.BlobCache, recorder AccessRecorder, logger zerolog.Logger) *Handler {
	return &Handler{
		files:    fileStore,
		cache:    blobs,
		recorder: recorder,
		logger:   logger.With().Str("component", "streaming").Logger(),
	}
}

// ServeFile writes the stored file name with Range support. Nothing is
// written when an error is returned.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request, name string) error {
	stat, err := h.files.Stat(name)
	if err != nil || !stat.Mode().IsRegular() {
		if h.cache != nil {
			h.cache.Delete(name)
		}
		if err == nil || errors.Is(err, os.ErrNotExist) || errors.Is(err, files.ErrInvalidName) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}

	var content io.ReadSeeker
	if h.cache != nil && h.cache.Admits(stat.Size()) {
		blob, ok := h.cache.Get(name)
		if ok && blob.ModTime.Equal(stat.ModTime()) && int64(len(blob.Data)) == stat.Size() {
			metrics.RecordFileServed("hit")
		} else {
			blob, err = h.load(name)
			if err != nil {
				return err
			}
			h.cache.Set(name, blob)
			metrics.RecordFileServed("miss")
		}
		content = bytes.NewReader(blob.Data)
	} else {
		file, err := h.files.Open(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return err
		}
		defer file.Close()
		content = file
		metrics.RecordFileServed("bypass")
	}

	if h.recorder != nil {
		h.recorder.MarkAccessed(r.Context(), name)
	}

	w.Header().Set("Content-Type", media.GetContentType(name))
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, name, stat.ModTime(), content)
	return nil
}

func (h *Handler) load(name string) (cache.Blob, error) {
	file, err := h.files.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cache.Blob{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return cache.Blob{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return cache.Blob{}, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return cache.Blob{}, err
	}

	h.logger.Debug().Str("file", name).Int("bytes", len(data)).Msg("cached file")
	return cache.Blob{Data: data, ModTime: stat.ModTime()}, nil
}
