package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIPageCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketcloner_api_page_count_total",
			Help: "Total number of Bitbucket API pages fetched",
		},
	)

	APIPageFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketcloner_api_page_failed_total",
			Help: "Total number of Bitbucket API page requests that did not succeed",
		},
		[]string{"status"},
	)
)
