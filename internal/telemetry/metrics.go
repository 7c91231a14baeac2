package telemetry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_sweeps_total",
		Help: "Scheduler sweeps by outcome (ok, error, skipped)",
	}, []string{"outcome"})
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_sweep_duration_seconds",
		Help:    "Wall time of one scheduler sweep",
		Buckets: prometheus.DefBuckets,
	})
	CampaignsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaigns_processed_total",
		Help: "Campaigns processed by the dispatcher, by resulting status",
	}, []string{"status"})
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_deliveries_total",
		Help: "Per-contact delivery outcomes (sent, already_sent, failed, exhausted, skipped)",
	}, []string{"channel", "outcome"})
)

// StartMetricsServer exposes /metrics on the given port in the background.
// Serve errors are reported on the returned channel.
func StartMetricsServer(port int) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return srv, errCh
}
