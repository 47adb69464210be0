package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PeerCounter reports the number of live peer connections, implemented by
// the network manager.
type PeerCounter interface {
	PeerCount() int
}

// RelayStatsSource exposes the counters each relay engine maintains so
// HealthLogger can publish them alongside transport-level metrics, without
// this package depending on internal/relay directly.
type RelayStatsSource interface {
	// PendingTransactions is the current mempool-relay backlog size.
	PendingTransactions() int
	// StemQueueDepth is the number of transactions currently in the
	// Dandelion++ stem phase awaiting fluff.
	StemQueueDepth() int
	// KnownInventorySize is the size of the bounded known-inventory set.
	KnownInventorySize() int
}

// Metrics captures a snapshot of network and node health statistics.
type Metrics struct {
	PeerCount      int    `json:"peer_count"`
	PendingTx      int    `json:"pending_tx"`
	StemQueueDepth int    `json:"stem_queue_depth"`
	KnownInventory int    `json:"known_inventory"`
	MemAlloc       uint64 `json:"mem_alloc"`
	NumGoroutines  int    `json:"goroutines"`
	Timestamp      int64  `json:"timestamp"`
}

// HealthLogger provides simple system monitoring and structured logging for
// the network node and its relay engines.
type HealthLogger struct {
	peers PeerCounter
	stats RelayStatsSource

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry        *prometheus.Registry
	peerCountGauge  prometheus.Gauge
	pendingTxGauge  prometheus.Gauge
	stemQueueGauge  prometheus.Gauge
	inventoryGauge  prometheus.Gauge
	memAllocGauge   prometheus.Gauge
	goroutinesGauge prometheus.Gauge
	errorCounter    prometheus.Counter
}

// NewHealthLogger configures a HealthLogger writing JSON logs to the given
// path. peers and stats may be nil, in which case the corresponding gauges
// stay at zero.
func NewHealthLogger(peers PeerCounter, stats RelayStatsSource, path string) (*HealthLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	h := &HealthLogger{peers: peers, stats: stats, log: lg, file: f, registry: reg}

	h.peerCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaynet_peer_count",
		Help: "Number of connected peers",
	})
	h.pendingTxGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaynet_pending_transactions",
		Help: "Number of transactions queued for relay",
	})
	h.stemQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaynet_dandelion_stem_queue_depth",
		Help: "Number of transactions in the Dandelion++ stem phase",
	})
	h.inventoryGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaynet_known_inventory_size",
		Help: "Size of the bounded known-inventory set",
	})
	h.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaynet_mem_alloc_bytes",
		Help: "Current memory allocation in bytes",
	})
	h.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaynet_goroutines",
		Help: "Number of running goroutines",
	})
	h.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaynet_log_errors_total",
		Help: "Total number of error events logged",
	})

	reg.MustRegister(
		h.peerCountGauge,
		h.pendingTxGauge,
		h.stemQueueGauge,
		h.inventoryGauge,
		h.memAllocGauge,
		h.goroutinesGauge,
		h.errorCounter,
	)

	return h, nil
}

// Close releases the underlying log file.
func (h *HealthLogger) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// Rotate switches logging to a new file path.
func (h *HealthLogger) Rotate(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	h.log.SetOutput(f)
	h.file = f
	return nil
}

// LogEvent records an arbitrary message with the specified log level.
func (h *HealthLogger) LogEvent(level logrus.Level, msg string) {
	h.mu.Lock()
	if level >= logrus.ErrorLevel {
		h.errorCounter.Inc()
	}
	h.log.Log(level, msg)
	h.mu.Unlock()
}

// MetricsSnapshot gathers current metrics from the network node, relay
// engines and runtime.
func (h *HealthLogger) MetricsSnapshot() Metrics {
	m := Metrics{Timestamp: time.Now().Unix(), NumGoroutines: runtime.NumGoroutine()}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.MemAlloc = mem.Alloc

	if h.peers != nil {
		m.PeerCount = h.peers.PeerCount()
	}
	if h.stats != nil {
		m.PendingTx = h.stats.PendingTransactions()
		m.StemQueueDepth = h.stats.StemQueueDepth()
		m.KnownInventory = h.stats.KnownInventorySize()
	}
	return m
}

// RecordMetrics captures the current snapshot and updates Prometheus gauges.
func (h *HealthLogger) RecordMetrics() {
	m := h.MetricsSnapshot()
	h.peerCountGauge.Set(float64(m.PeerCount))
	h.pendingTxGauge.Set(float64(m.PendingTx))
	h.stemQueueGauge.Set(float64(m.StemQueueDepth))
	h.inventoryGauge.Set(float64(m.KnownInventory))
	h.memAllocGauge.Set(float64(m.MemAlloc))
	h.goroutinesGauge.Set(float64(m.NumGoroutines))
	h.LogEvent(logrus.InfoLevel, "metrics recorded")
}

// RunMetricsCollector periodically records metrics until the context is canceled.
func (h *HealthLogger) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.RecordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// StartMetricsServer exposes the Prometheus metrics endpoint and a JSON
// health snapshot on the given address. It returns the underlying
// http.Server so callers may manage its lifecycle.
func (h *HealthLogger) StartMetricsServer(addr string) (*http.Server, error) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.MetricsSnapshot())
	}).Methods(http.MethodGet)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv, nil
}

// ShutdownMetricsServer gracefully stops the metrics HTTP server.
func (h *HealthLogger) ShutdownMetricsServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
