package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	archiveRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotquery_archive_runs_total",
			Help: "Total number of scheduled history archive runs by status.",
		},
		[]string{"status"},
	)
	archivedRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iotquery_archive_records_total",
			Help: "Total number of query history records exported by scheduled runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		archiveRunsTotal,
		archivedRecordsTotal,
	)
}
