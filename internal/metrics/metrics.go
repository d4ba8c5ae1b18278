// Package metrics provides Prometheus metrics for an adbfs mount.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	shellCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbfs_shell_commands_total",
			Help: "Total commands sent over the persistent device shell",
		},
		[]string{"command", "status"},
	)

	shellCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adbfs_shell_command_duration_seconds",
			Help:    "Round trip of a device shell command including the wait for the channel",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbfs_cache_lookups_total",
			Help: "Metadata cache lookups",
		},
		[]string{"kind", "result"},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbfs_transfers_total",
			Help: "File transfers between the staging directory and the device",
		},
		[]string{"direction", "status"},
	)

	transferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adbfs_transfer_duration_seconds",
			Help:    "adb push and pull duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"direction"},
	)

	writeBackFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adbfs_write_back_failures_total",
			Help: "Flushes whose push to the device failed",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// commandLabel reduces a shell command to its program name so label
// cardinality stays bounded.
func commandLabel(command string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(command), " ")
	if name == "" {
		return "unknown"
	}
	return name
}

// RecordShellCommand records one persistent shell round trip.
func RecordShellCommand(command string, duration time.Duration, success bool) {
	label := commandLabel(command)
	shellCommandsTotal.WithLabelValues(label, status(success)).Inc()
	shellCommandDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordCacheLookup records a stat or readlink cache lookup.
func RecordCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordTransfer records an adb push or pull.
func RecordTransfer(direction string, duration time.Duration, success bool) {
	transfersTotal.WithLabelValues(direction, status(success)).Inc()
	transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordWriteBackFailure counts a flush that could not push its content.
func RecordWriteBackFailure() {
	writeBackFailuresTotal.Inc()
}

// Server serves the metrics handler on addr until Shutdown.
type Server struct {
	srv *http.Server
	log *logrus.Entry
}

// Serve starts listening on addr in the background.
func Serve(addr string) *Server {
	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logrus.WithField("component", "metrics"),
	}
	go func() {
		s.log.Infof("metrics server listening on %s", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("metrics server error")
		}
	}()
	return s
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
