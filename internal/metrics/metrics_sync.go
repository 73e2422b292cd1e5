package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RepoSyncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketcloner_repo_sync_failed_total",
			Help: "Total number of failed repository sync operations",
		},
		[]string{"workspace"},
	)

	RepoSyncCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketcloner_repo_sync_count_total",
			Help: "Total number of repository sync operations",
		},
		[]string{"workspace", "action"},
	)

	RepoSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketcloner_repo_sync_duration_seconds",
			Help:    "Repository sync duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"workspace", "action"},
	)

	ReposSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketcloner_repos_skipped_total",
			Help: "Total number of repositories skipped before sync",
		},
		[]string{"reason"},
	)

	LastRepoSyncEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bucketcloner_last_repo_sync_end_timestamp",
			Help: "Unix timestamp of when the last repository sync ended",
		},
		[]string{"workspace"},
	)
)
