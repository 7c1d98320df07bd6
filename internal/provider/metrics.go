package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridmesh/gridmesh/internal/logx"
)

var (
	connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridmesh_provider_connected_to_server",
		Help: "Whether the provider is connected and authenticated (1 or 0)",
	})
	servedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridmesh_provider_served_requests",
		Help: "Total number of successfully served requests",
	})
	requestsFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridmesh_provider_requests_failed_total",
		Help: "Total number of requests that failed",
	})
	requestDurationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridmesh_provider_request_duration_seconds",
		Help:    "Duration of relayed requests in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

func setConnectedMetric(connected bool) {
	if connected {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
}

func recordRequestMetric(success bool, dur time.Duration, served uint64) {
	if success {
		servedGauge.Set(float64(served))
	} else {
		requestsFailedCounter.Inc()
	}
	requestDurationHist.Observe(dur.Seconds())
}

// StartMetricsServer starts an HTTP server exposing Prometheus metrics on
// /metrics. It returns the address it is listening on.
func StartMetricsServer(ctx context.Context, addr string) (string, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		connectedGauge,
		servedGauge,
		requestsFailedCounter,
		requestDurationHist,
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actual := ln.Addr().String()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Error().Err(err).Str("addr", actual).Msg("metrics server error")
		}
	}()
	return actual, nil
}
