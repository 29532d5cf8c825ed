package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commune_signaling_requests_total",
		Help: "Total number of signaling requests by event and outcome",
	}, []string{"event", "outcome"}) // outcome: "ok" | "error" | "timeout"

	SignalingRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commune_signaling_request_duration_seconds",
		Help:    "Round-trip time of signaling requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	SignalingPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commune_signaling_pushes_total",
		Help: "Total number of push notifications received",
	}, []string{"event"})

	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commune_session_state",
		Help: "Current room session state (0=idle ... 4=active, 5=failed, 6=closed)",
	})

	ActiveProducers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commune_active_producers",
		Help: "Number of local producers on the send transport",
	}, []string{"kind"})

	ActiveConsumers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commune_active_consumers",
		Help: "Number of remote producers currently rendered",
	}, []string{"kind"})

	NegotiationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commune_negotiation_failures_total",
		Help: "Total number of failed consumer negotiations",
	}, []string{"reason"})

	RTPPacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commune_rtp_packets_received_total",
		Help: "Total RTP packets read from remote tracks",
	}, []string{"kind"})

	RTPBytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commune_rtp_bytes_received_total",
		Help: "Total RTP payload bytes read from remote tracks",
	}, []string{"kind"})

	PLISentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commune_pli_sent_total",
		Help: "Total picture loss indications sent for remote video",
	})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
