package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"mediacatalog/internal/catalog"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type CreateMediaRequest struct {
	Name       string   `json:"name"`
	URI        string   `json:"uri"`
	MimeType   string   `json:"mimeType"`
	Cover      *string  `json:"cover"`
	IsFavorite flexBool `json:"isFavorite"`
	Duration   int64    `json:"duration"` // Seconds
	FileSize   int64    `json:"fileSize"` // Bytes
	DeviceID   *string  `json:"deviceId"`
	DeviceName *string  `json:"deviceName"`
}

func (r CreateMediaRequest) input() catalog.CreateInput {
	return catalog.CreateInput{
		Name:       r.Name,
		URI:        r.URI,
		MimeType:   r.MimeType,
		Cover:      r.Cover,
		IsFavorite: bool(r.IsFavorite),
		Duration:   r.Duration,
		FileSize:   r.FileSize,
		DeviceID:   r.DeviceID,
		DeviceName: r.DeviceName,
	}
}

// UpdateMediaRequest fields left out of the body keep their stored value.
type UpdateMediaRequest struct {
	Name       *string   `json:"name"`
	IsFavorite *flexBool `json:"isFavorite"`
}

func (r UpdateMediaRequest) input() catalog.UpdateInput {
	in := catalog.UpdateInput{Name: r.Name}
	if r.IsFavorite != nil {
		fav := bool(*r.IsFavorite)
		in.IsFavorite = &fav
	}
	return in
}

// flexBool accepts the 0/1 integers older clients send alongside JSON
// booleans and "true"/"false" strings. Any non-zero number is true.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case bool:
		*b = flexBool(v)
	case float64:
		*b = v != 0
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("isFavorite: %q is not a boolean", v)
		}
		*b = flexBool(parsed)
	default:
		return fmt.Errorf("isFavorite: unsupported value %s", data)
	}
	return nil
}

type FavoriteResponse struct {
	IsFavorite bool `json:"isFavorite"`
}
