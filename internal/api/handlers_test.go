package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediacatalog/internal/catalog"
	"mediacatalog/internal/files"
	"mediacatalog/internal/ingest"
	"mediacatalog/internal/storage"
	"mediacatalog/internal/streaming"
)

type testAPI struct {
	router http.Handler
	store  *storage.Store
	files  *files.Store
}

func newTestAPI(t *testing.T, maxUpload int64) *testAPI {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "midias.db"), storage.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fileStore, err := files.New(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	logger := zerolog.Nop()
	svc := catalog.NewService(store, fileStore, logger)
	h := NewHandler(
		svc,
		ingest.New(fileStore, svc, maxUpload, logger),
		streaming.NewHandler(fileStore, nil, svc, logger),
		maxUpload,
		logger,
	)

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/uploads/{filename}", h.ServeUpload)
	r.Get("/api/midias", h.ListMedia)
	r.Post("/api/midias", h.CreateMedia)
	r.Get("/api/midias/{id}", h.GetMedia)
	r.Put("/api/midias/{id}", h.UpdateMedia)
	r.Delete("/api/midias/{id}", h.DeleteMedia)
	r.Post("/api/midias/{id}/favorite", h.ToggleFavorite)
	r.Post("/api/upload", h.Upload)
	r.Get("/api/stats", h.Stats)

	return &testAPI{router: r, store: store, files: fileStore}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) upload(t *testing.T, filename, partType string, payload []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if payload != nil {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		if partType != "" {
			hdr.Set("Content-Type", partType)
		}
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, w.Code, w.Body.String())
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, code, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Message)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, 0)

	w := a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, HealthResponse{Status: "ok", Version: Version}, decode[HealthResponse](t, w))
}

func TestMediaLifecycle(t *testing.T) {
	a := newTestAPI(t, 0)

	w := a.do(t, http.MethodPost, "/api/midias", `{"name":"Song A","uri":"local:///a.mp3","mimeType":"audio/mpeg"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[storage.MediaRecord](t, w)
	assert.Positive(t, created.ID)
	assert.False(t, created.IsFavorite)
	assert.Zero(t, created.Duration)

	path := fmt.Sprintf("/api/midias/%d", created.ID)

	w = a.do(t, http.MethodPost, path+"/favorite", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[FavoriteResponse](t, w).IsFavorite)

	w = a.do(t, http.MethodPost, path+"/favorite", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[FavoriteResponse](t, w).IsFavorite)

	w = a.do(t, http.MethodPut, path, `{"name":"Song B","isFavorite":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[storage.MediaRecord](t, w)
	assert.Equal(t, "Song B", updated.Name)
	assert.True(t, updated.IsFavorite)

	w = a.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "media deleted", decode[MessageResponse](t, w).Message)

	assertError(t, a.do(t, http.MethodGet, path, ""), http.StatusNotFound, "MEDIA_NOT_FOUND")
}

func TestListMedia(t *testing.T) {
	a := newTestAPI(t, 0)

	w := a.do(t, http.MethodGet, "/api/midias", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	for _, body := range []string{
		`{"name":"a","uri":"a.mp3","isFavorite":true}`,
		`{"name":"b","uri":"b.mp4"}`,
		`{"name":"c","uri":"c.ogg"}`,
	} {
		require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/midias", body).Code)
	}

	all := decode[[]storage.MediaRecord](t, a.do(t, http.MethodGet, "/api/midias", ""))
	assert.Len(t, all, 3)

	favs := decode[[]storage.MediaRecord](t, a.do(t, http.MethodGet, "/api/midias?favorites=true", ""))
	require.Len(t, favs, 1)
	assert.Equal(t, "a", favs[0].Name)

	audio := decode[[]storage.MediaRecord](t, a.do(t, http.MethodGet, "/api/midias?type=audio", ""))
	assert.Len(t, audio, 2)

	video := decode[[]storage.MediaRecord](t, a.do(t, http.MethodGet, "/api/midias?type=video/mp4", ""))
	assert.Len(t, video, 1)

	assertError(t, a.do(t, http.MethodGet, "/api/midias?favorites=maybe", ""), http.StatusBadRequest, "BAD_REQUEST")
}

func TestListMedia_ExposesAge(t *testing.T) {
	a := newTestAPI(t, 0)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/midias", `{"name":"a","uri":"a.mp3"}`).Code)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(a.do(t, http.MethodGet, "/api/midias", "").Body.Bytes(), &raw))
	require.Len(t, raw, 1)
	assert.Equal(t, float64(0), raw[0]["numeroDias"])
	assert.Equal(t, "audio/mpeg", raw[0]["mimeType"])
}

func TestCreateMedia_Errors(t *testing.T) {
	a := newTestAPI(t, 0)

	assertError(t, a.do(t, http.MethodPost, "/api/midias", `{"uri":"a.mp3"}`), http.StatusBadRequest, "BAD_REQUEST")
	assertError(t, a.do(t, http.MethodPost, "/api/midias", `{"name":"a"}`), http.StatusBadRequest, "BAD_REQUEST")
	assertError(t, a.do(t, http.MethodPost, "/api/midias", `not json`), http.StatusBadRequest, "BAD_REQUEST")
	assertError(t, a.do(t, http.MethodPost, "/api/midias", ""), http.StatusBadRequest, "BAD_REQUEST")
}

func TestIsFavorite_AcceptsIntegerFlags(t *testing.T) {
	a := newTestAPI(t, 0)

	w := a.do(t, http.MethodPost, "/api/midias", `{"name":"a","uri":"a.mp3","isFavorite":1}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[storage.MediaRecord](t, w)
	assert.True(t, created.IsFavorite)

	path := fmt.Sprintf("/api/midias/%d", created.ID)

	w = a.do(t, http.MethodPut, path, `{"isFavorite":0}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[storage.MediaRecord](t, w).IsFavorite)

	w = a.do(t, http.MethodPut, path, `{"isFavorite":"true"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[storage.MediaRecord](t, w).IsFavorite)

	// null leaves the stored flag alone.
	w = a.do(t, http.MethodPut, path, `{"name":"b","isFavorite":null}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[storage.MediaRecord](t, w)
	assert.Equal(t, "b", updated.Name)
	assert.True(t, updated.IsFavorite)

	assertError(t, a.do(t, http.MethodPut, path, `{"isFavorite":"maybe"}`), http.StatusBadRequest, "BAD_REQUEST")
	assertError(t, a.do(t, http.MethodPost, "/api/midias", `{"name":"a","uri":"a.mp3","isFavorite":[1]}`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestInvalidIDs(t *testing.T) {
	a := newTestAPI(t, 0)

	for _, id := range []string{"abc", "0", "-3", "1.5"} {
		path := "/api/midias/" + id
		assertError(t, a.do(t, http.MethodGet, path, ""), http.StatusBadRequest, "BAD_REQUEST")
		assertError(t, a.do(t, http.MethodPut, path, `{"name":"x"}`), http.StatusBadRequest, "BAD_REQUEST")
		assertError(t, a.do(t, http.MethodDelete, path, ""), http.StatusBadRequest, "BAD_REQUEST")
		assertError(t, a.do(t, http.MethodPost, path+"/favorite", ""), http.StatusBadRequest, "BAD_REQUEST")
	}
}

func TestMissingRecords(t *testing.T) {
	a := newTestAPI(t, 0)

	assertError(t, a.do(t, http.MethodGet, "/api/midias/42", ""), http.StatusNotFound, "MEDIA_NOT_FOUND")
	assertError(t, a.do(t, http.MethodPut, "/api/midias/42", `{"name":"x"}`), http.StatusNotFound, "MEDIA_NOT_FOUND")
	assertError(t, a.do(t, http.MethodPost, "/api/midias/42/favorite", ""), http.StatusNotFound, "MEDIA_NOT_FOUND")

	w := a.do(t, http.MethodDelete, "/api/midias/42", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpload(t *testing.T) {
	a := newTestAPI(t, 0)
	payload := bytes.Repeat([]byte("mov"), 500)

	w := a.upload(t, "clip.mov", "", payload, map[string]string{"deviceName": "phone"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decode[ingest.Result](t, w)
	assert.Equal(t, "video/quicktime", res.MimeType)
	assert.Equal(t, int64(len(payload)), res.Size)
	assert.Equal(t, "/uploads/"+res.Filename, res.Path)
	require.NotNil(t, res.Record)
	assert.Equal(t, "clip", res.Record.Name)
	assert.Equal(t, int64(len(payload)), res.Record.FileSize)
	require.NotNil(t, res.Record.DeviceName)
	assert.Equal(t, "phone", *res.Record.DeviceName)

	served := a.do(t, http.MethodGet, res.Path, "")
	require.Equal(t, http.StatusOK, served.Code)
	assert.Equal(t, payload, served.Body.Bytes())
	assert.Equal(t, "video/quicktime", served.Header().Get("Content-Type"))

	got := decode[storage.MediaRecord](t, a.do(t, http.MethodGet, fmt.Sprintf("/api/midias/%d", res.Record.ID), ""))
	assert.NotNil(t, got.LastAccessed)

	w = a.do(t, http.MethodDelete, fmt.Sprintf("/api/midias/%d", res.Record.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assertError(t, a.do(t, http.MethodGet, res.Path, ""), http.StatusNotFound, "FILE_NOT_FOUND")
}

func TestUpload_Fields(t *testing.T) {
	a := newTestAPI(t, 0)

	w := a.upload(t, "blob", "audio/ogg", []byte("OggS"), map[string]string{
		"name":       "Voice memo",
		"isFavorite": "true",
		"duration":   "42",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decode[ingest.Result](t, w)
	assert.True(t, strings.HasSuffix(res.Filename, ".ogg"))
	assert.Equal(t, "audio/ogg", res.MimeType)
	assert.Equal(t, "Voice memo", res.Record.Name)
	assert.True(t, res.Record.IsFavorite)
	assert.Equal(t, int64(42), res.Record.Duration)
}

func TestUpload_Errors(t *testing.T) {
	a := newTestAPI(t, 16)

	assertError(t, a.upload(t, "", "", nil, map[string]string{"name": "x"}), http.StatusBadRequest, "BAD_REQUEST")
	assertError(t, a.upload(t, "a.mp3", "", []byte("x"), map[string]string{"isFavorite": "sometimes"}), http.StatusBadRequest, "BAD_REQUEST")
	assertError(t, a.upload(t, "a.mp3", "", []byte("x"), map[string]string{"duration": "long"}), http.StatusBadRequest, "BAD_REQUEST")
	assertError(t, a.upload(t, "a.mp3", "", bytes.Repeat([]byte("x"), 17), nil), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
	assertError(t, a.upload(t, "a.mp3", "", bytes.Repeat([]byte("x"), 3<<20), nil), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")

	w := a.do(t, http.MethodPost, "/api/upload", `{"file":"nope"}`)
	assertError(t, w, http.StatusBadRequest, "BAD_REQUEST")

	entries, err := a.files.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestServeUpload_NotFound(t *testing.T) {
	a := newTestAPI(t, 0)

	assertError(t, a.do(t, http.MethodGet, "/uploads/missing.mp3", ""), http.StatusNotFound, "FILE_NOT_FOUND")
	assertError(t, a.do(t, http.MethodGet, "/uploads/.trash-x.mp3", ""), http.StatusNotFound, "FILE_NOT_FOUND")
}

func TestStats(t *testing.T) {
	a := newTestAPI(t, 0)

	for _, body := range []string{
		`{"name":"a","uri":"a.mp3","duration":120,"fileSize":100,"isFavorite":true}`,
		`{"name":"b","uri":"b.mp3","duration":60,"fileSize":50}`,
	} {
		require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/midias", body).Code)
	}

	w := a.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"total": 2,
		"favorites": 1,
		"byType": {"audio/mpeg": 2},
		"totalSize": 150,
		"totalDuration": 180,
		"formattedDuration": "3 min"
	}`, w.Body.String())
}

func TestStorageErrorsAreReported(t *testing.T) {
	a := newTestAPI(t, 0)
	require.NoError(t, a.store.Close())

	assertError(t, a.do(t, http.MethodGet, "/api/midias", ""), http.StatusInternalServerError, "STORAGE_ERROR")
	assertError(t, a.do(t, http.MethodGet, "/api/stats", ""), http.StatusInternalServerError, "STORAGE_ERROR")
}
