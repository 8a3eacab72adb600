// Package ingest turns uploaded binaries into stored files with a catalog
// record pointing at them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediacatalog/internal/catalog"
	"mediacatalog/internal/files"
	"mediacatalog/internal/media"
	"mediacatalog/internal/metrics"
	"mediacatalog/internal/storage"
)

var (
	ErrValidation = errors.New("invalid upload")
	ErrTooLarge   = errors.New("upload too large")
	ErrStorage    = errors.New("upload storage failed")
)

// Upload is one binary plus the metadata submitted with it.
type Upload struct {
	Filename    string
	ContentType string // declared by the client, may be empty
	Body        io.Reader

	Name       string
	MimeType   string
	DeviceID   *string
	DeviceName *string
	IsFavorite bool
	Duration   int64
	Cover      *string
}

// Result describes the stored file and the record created for it.
type Result struct {
	Filename string               `json:"filename"`
	Path     string               `json:"path"`
	Size     int64                `json:"size"`
	MimeType string               `json:"mimetype"`
	Record   *storage.MediaRecord `json:"media"`
}

type Ingestor struct {
	files    *files.Store
	catalog  *catalog.Service
	maxBytes int64
	logger   zerolog.Logger
}

// New creates an Ingestor. maxBytes <= 0 disables the size limit.
func New(fileStore *files.Store, svc *catalog.Service, maxBytes int64, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		files:    fileStore,
		catalog:  svc,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

func (in *Ingestor) Ingest(ctx context.Context, up Upload) (*Result, error) {
	filename := baseName(up.Filename)
	if up.Body == nil || filename == "" {
		metrics.RecordUpload("invalid", 0)
		return nil, fmt.Errorf("%w: no file provided", ErrValidation)
	}

	ext := media.Ext(filename)
	if !validExt(ext) {
		ext = media.ExtensionForContentType(up.ContentType)
	}
	storedName := uuid.New().String() + "." + ext

	body := up.Body
	if in.maxBytes > 0 {
		body = &limitReader{r: body, remaining: in.maxBytes}
	}

	if _, err := in.files.Write(storedName, body); err != nil {
		if errors.Is(err, ErrTooLarge) {
			metrics.RecordUpload("invalid", 0)
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, in.maxBytes)
		}
		metrics.RecordUpload("storage_error", 0)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	info, err := in.files.Stat(storedName)
	if err != nil {
		in.discard(storedName)
		metrics.RecordUpload("storage_error", 0)
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStorage, storedName, err)
	}
	size := info.Size()

	mimeType := resolveMimeType(up.MimeType, ext, up.ContentType)

	name := strings.TrimSpace(up.Name)
	if name == "" {
		name = strings.TrimSuffix(filename, path.Ext(filename))
		if name == "" {
			name = filename
		}
	}

	rec, err := in.catalog.Create(ctx, catalog.CreateInput{
		Name:       name,
		URI:        files.URI(storedName),
		MimeType:   mimeType,
		Cover:      up.Cover,
		IsFavorite: up.IsFavorite,
		Duration:   up.Duration,
		FileSize:   size,
		DeviceID:   up.DeviceID,
		DeviceName: up.DeviceName,
	})
	if err != nil {
		in.discard(storedName)
		if errors.Is(err, catalog.ErrValidation) {
			metrics.RecordUpload("invalid", 0)
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		metrics.RecordUpload("storage_error", 0)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	metrics.RecordUpload("success", size)
	in.logger.Info().
		Str("file", storedName).
		Str("original", filename).
		Int64("size", size).
		Str("mime", mimeType).
		Int64("id", rec.ID).
		Msg("upload stored")

	return &Result{
		Filename: storedName,
		Path:     files.URI(storedName),
		Size:     size,
		MimeType: mimeType,
		Record:   rec,
	}, nil
}

func (in *Ingestor) discard(name string) {
	if err := in.files.Remove(name); err != nil {
		in.logger.Error().Err(err).Str("file", name).Msg("failed to remove stored file after failed upload")
	}
}

// resolveMimeType prefers the explicit value, then the extension table, then
// the declared part content type.
func resolveMimeType(explicit, ext, declared string) string {
	if m := strings.TrimSpace(explicit); m != "" {
		return m
	}
	if m, ok := media.ContentTypeForExt(ext); ok {
		return m
	}
	if m := strings.TrimSpace(declared); m != "" {
		return m
	}
	return media.DefaultContentType
}

func validExt(ext string) bool {
	if ext == "" || len(ext) > 16 {
		return false
	}
	for _, c := range ext {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// baseName drops any client-side directory components.
func baseName(filename string) string {
	filename = strings.TrimSpace(strings.ReplaceAll(filename, `\`, "/"))
	if filename == "" {
		return ""
	}
	base := path.Base(filename)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
