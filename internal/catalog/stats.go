package catalog

import (
	"fmt"
	"time"

	"mediacatalog/internal/storage"
)

type Stats struct {
	Total             int            `json:"total"`
	Favorites         int            `json:"favorites"`
	ByType            map[string]int `json:"byType"`
	TotalSize         int64          `json:"totalSize"`     // Bytes
	TotalDuration     int64          `json:"totalDuration"` // Seconds
	FormattedDuration string         `json:"formattedDuration"`
}

// ComputeStats aggregates the given records.
func ComputeStats(records []storage.MediaRecord) Stats {
	stats := Stats{ByType: make(map[string]int)}

	for _, r := range records {
		stats.Total++
		if r.IsFavorite {
			stats.Favorites++
		}
		stats.ByType[r.MimeType]++
		stats.TotalSize += r.FileSize
		stats.TotalDuration += r.Duration
	}

	stats.FormattedDuration = FormatMinutes(stats.TotalDuration)
	return stats
}

// FormatMinutes renders seconds as whole minutes.
func FormatMinutes(seconds int64) string {
	return fmt.Sprintf("%d min", seconds/60)
}

// AgeDays returns the whole days elapsed since dateAdded. Unknown or future
// timestamps give 0.
func AgeDays(dateAdded, now time.Time) int {
	if dateAdded.IsZero() || now.Before(dateAdded) {
		return 0
	}
	return int(now.Sub(dateAdded).Hours() / 24)
}
