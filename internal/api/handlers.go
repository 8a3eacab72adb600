package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mediacatalog/internal/catalog"
	"mediacatalog/internal/ingest"
	"mediacatalog/internal/storage"
	"mediacatalog/internal/streaming"
)

const Version = "0.2.0"

const (
	maxJSONBody = 1 << 20
	// Room for multipart boundaries and the metadata fields next to the file.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

type Handler struct {
	catalog        *catalog.Service
	ingestor       *ingest.Ingestor
	streamer       *streaming.Handler
	maxUploadBytes int64
	logger         zerolog.Logger
}

func NewHandler(svc *catalog.Service, ingestor *ingest.Ingestor, streamer *streaming.Handler, maxUploadBytes int64, logger zerolog.Logger) *Handler {
	return &Handler{
		catalog:        svc,
		ingestor:       ingestor,
		streamer:       streamer,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

func (h *Handler) ListMedia(w http.ResponseWriter, r *http.Request) {
	var filter storage.Filter

	if v := r.URL.Query().Get("favorites"); v != "" {
		fav, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "favorites must be true or false")
			return
		}
		filter.FavoritesOnly = fav
	}

	if t := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type"))); t != "" {
		if !strings.Contains(t, "/") {
			t += "/"
		}
		filter.MimePrefix = t
	}

	records, err := h.catalog.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "failed to list media")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rec, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get media")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) CreateMedia(w http.ResponseWriter, r *http.Request) {
	var req CreateMediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.catalog.Create(r.Context(), req.input())
	if err != nil {
		h.writeServiceError(w, err, "failed to create media")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) UpdateMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req UpdateMediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.catalog.Update(r.Context(), id, req.input())
	if err != nil {
		h.writeServiceError(w, err, "failed to update media")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.catalog.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "failed to delete media")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "media deleted"})
}

func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	fav, err := h.catalog.ToggleFavorite(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to toggle favorite")
		return
	}

	writeJSON(w, http.StatusOK, FavoriteResponse{IsFavorite: fav})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.catalog.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Upload accepts a multipart form with a "file" part plus optional name,
// mimeType, deviceId, deviceName, isFavorite, duration and cover fields.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "No file provided")
		return
	}
	defer file.Close()

	up := ingest.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		Name:        r.FormValue("name"),
		MimeType:    r.FormValue("mimeType"),
		DeviceID:    optionalValue(r, "deviceId"),
		DeviceName:  optionalValue(r, "deviceName"),
		Cover:       optionalValue(r, "cover"),
	}

	if v := r.FormValue("isFavorite"); v != "" {
		fav, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "isFavorite must be true or false")
			return
		}
		up.IsFavorite = fav
	}

	if v := r.FormValue("duration"); v != "" {
		d, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "duration must be an integer")
			return
		}
		up.Duration = d
	}

	res, err := h.ingestor.Ingest(r.Context(), up)
	if err != nil {
		h.writeServiceError(w, err, "upload failed")
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	if err := h.streamer.ServeFile(w, r, name); err != nil {
		h.writeServiceError(w, err, "failed to serve file")
	}
}

// writeServiceError maps service errors onto the error envelope.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, catalog.ErrValidation), errors.Is(err, ingest.ErrValidation):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "MEDIA_NOT_FOUND", "Media not found")
	case errors.Is(err, streaming.ErrNotFound):
		writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
	case errors.Is(err, ingest.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", err.Error())
	case errors.Is(err, catalog.ErrStorage), errors.Is(err, ingest.ErrStorage):
		h.logger.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
	default:
		h.logger.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid media id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Request body is empty")
			return false
		}
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return false
	}
	return true
}

func optionalValue(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
