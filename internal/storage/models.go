package storage

import "time"

// MediaRecord is one catalogued audio or video item.
type MediaRecord struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	URI          string     `json:"uri"`
	MimeType     string     `json:"mimeType"`
	Cover        *string    `json:"cover"`
	IsFavorite   bool       `json:"isFavorite"`
	Duration     int64      `json:"duration"` // Seconds
	FileSize     int64      `json:"fileSize"` // Bytes
	DateAdded    time.Time  `json:"dateAdded"`
	AgeDays      int        `json:"numeroDias"` // Filled at read time by the catalog service
	LastAccessed *time.Time `json:"lastAccessed,omitempty"`
	DeviceID     *string    `json:"deviceId,omitempty"`
	DeviceName   *string    `json:"deviceName,omitempty"`
}

// NewRecord holds the caller-supplied fields of a record. DateAdded is
// always stamped by the store.
type NewRecord struct {
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

// Filter narrows List. The zero value lists everything.
type Filter struct {
	FavoritesOnly bool
	MimePrefix    string // e.g. "audio/" or "video/mp4"
}
