package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacatalog_uploads_total",
		Help: "Upload attempts by outcome",
	}, []string{"outcome"}) // outcome=success|invalid|storage_error

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacatalog_upload_bytes_total",
		Help: "Bytes persisted by successful uploads",
	})

	recordOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacatalog_record_operations_total",
		Help: "Catalog record operations by kind and outcome",
	}, []string{"op", "outcome"}) // op=create|update|delete|toggle, outcome=success|not_found|invalid|error

	filesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacatalog_files_served_total",
		Help: "Stored files served by cache result",
	}, []string{"cache"}) // cache=hit|miss|bypass

	orphansRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacatalog_orphans_removed_total",
		Help: "Unreferenced upload files removed by reconciliation",
	})

	catalogRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacatalog_records",
		Help: "Number of catalog records at the last stats computation",
	})
)

func RecordUpload(outcome string, bytes int64) {
	uploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" && bytes > 0 {
		uploadBytes.Add(float64(bytes))
	}
}

func RecordOperation(op, outcome string) {
	recordOperations.WithLabelValues(op, outcome).Inc()
}

func RecordFileServed(cache string) {
	filesServed.WithLabelValues(cache).Inc()
}

func RecordOrphansRemoved(n int) {
	if n > 0 {
		orphansRemoved.Add(float64(n))
	}
}

func SetCatalogRecords(n int) {
	catalogRecords.Set(float64(n))
}
