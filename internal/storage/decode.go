package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayout matches SQLite's datetime('now') so rows written by older
// deployments and by this store sort together.
const timeLayout = "2006-01-02 15:04:05"

var parseLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime returns the zero time for empty or unparsable input.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// flexInt scans integer-ish columns written by any schema generation:
// integers, reals, booleans, numeric text and "true"/"false". NULL and
// anything else decode as zero.
type flexInt struct {
	Int64 int64
	Valid bool
}

func (f *flexInt) Scan(value any) error {
	f.Int64, f.Valid = 0, false
	switch v := value.(type) {
	case nil:
		return nil
	case int64:
		f.Int64 = v
	case float64:
		f.Int64 = int64(v)
	case bool:
		if v {
			f.Int64 = 1
		}
	case []byte:
		f.Int64 = parseFlexInt(string(v))
	case string:
		f.Int64 = parseFlexInt(v)
	default:
		return fmt.Errorf("storage: cannot decode %T as integer", value)
	}
	f.Valid = true
	return nil
}

func parseFlexInt(s string) int64 {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			return 1
		}
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

// recordRow mirrors the canonical column order in columns.
type recordRow struct {
	id           int64
	name         sql.NullString
	uri          sql.NullString
	mimeType     sql.NullString
	cover        sql.NullString
	isFavorite   flexInt
	duration     flexInt
	fileSize     flexInt
	dateAdded    sql.NullString
	lastAccessed sql.NullString
	deviceID     sql.NullString
	deviceName   sql.NullString
}

func (r *recordRow) dest() []any {
	return []any{
		&r.id, &r.name, &r.uri, &r.mimeType, &r.cover,
		&r.isFavorite, &r.duration, &r.fileSize,
		&r.dateAdded, &r.lastAccessed, &r.deviceID, &r.deviceName,
	}
}

func (r *recordRow) record() MediaRecord {
	m := MediaRecord{
		ID:         r.id,
		Name:       r.name.String,
		URI:        r.uri.String,
		MimeType:   r.mimeType.String,
		Cover:      nullStringPtr(r.cover),
		IsFavorite: r.isFavorite.Int64 != 0,
		Duration:   r.duration.Int64,
		FileSize:   r.fileSize.Int64,
		DateAdded:  parseTime(r.dateAdded.String),
		DeviceID:   nullStringPtr(r.deviceID),
		DeviceName: nullStringPtr(r.deviceName),
	}
	if t := parseTime(r.lastAccessed.String); !t.IsZero() {
		m.LastAccessed = &t
	}
	return m
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc rowScanner) (MediaRecord, error) {
	var row recordRow
	if err := sc.Scan(row.dest()...); err != nil {
		return MediaRecord{}, err
	}
	return row.record(), nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
