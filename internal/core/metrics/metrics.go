// Package metrics provides Prometheus metrics for the file server.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/tftp/internal/packets"
)

const namespace = "tftp"

// Metrics contains all Prometheus metrics for the server.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	LoginsActive      prometheus.Gauge

	// Protocol metrics
	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	ErrorsSent      *prometheus.CounterVec
	Broadcasts      *prometheus.CounterVec

	// Transfer metrics
	BytesUploaded   prometheus.Counter
	BytesDownloaded prometheus.Counter
	TransfersTotal  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently connected clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of client connections accepted",
		}),
		LoginsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "logins_active",
			Help:      "Number of connections with a logged in user",
		}),

		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total packets received by opcode",
		}, []string{"opcode"}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total packets sent by opcode",
		}, []string{"opcode"}),
		ErrorsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_sent_total",
			Help:      "Total error packets sent by error code",
		}, []string{"code"}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Total broadcast notifications fanned out by operation",
		}, []string{"operation"}),

		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_uploaded_total",
			Help:      "Total file bytes received from clients",
		}),
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_downloaded_total",
			Help:      "Total file bytes streamed to clients",
		}),
		TransfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total completed transfers by operation",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordConnect() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) RecordDisconnect() {
	m.ConnectionsActive.Dec()
}

func (m *Metrics) RecordLogin() {
	m.LoginsActive.Inc()
}

func (m *Metrics) RecordLogout() {
	m.LoginsActive.Dec()
}

func (m *Metrics) RecordPacketReceived(op packets.Opcode) {
	m.PacketsReceived.WithLabelValues(op.String()).Inc()
}

// RecordPacketSent counts an outgoing packet, additionally tallying error
// packets by their code.
func (m *Metrics) RecordPacketSent(pkt packets.Packet) {
	m.PacketsSent.WithLabelValues(pkt.Type().String()).Inc()
	if e, ok := pkt.(*packets.Error); ok {
		m.ErrorsSent.WithLabelValues(strconv.Itoa(int(e.Code))).Inc()
	}
}

func (m *Metrics) RecordBroadcast(op packets.BroadcastOperation) {
	m.Broadcasts.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) RecordUpload(bytes int64) {
	m.BytesUploaded.Add(float64(bytes))
	m.TransfersTotal.WithLabelValues("upload").Inc()
}

func (m *Metrics) RecordDownload(bytes int64) {
	m.BytesDownloaded.Add(float64(bytes))
	m.TransfersTotal.WithLabelValues("download").Inc()
}

// Serve exposes the default registry on /metrics until ctx is cancelled.
func Serve(ctx context.Context, logger *logrus.Logger, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("serving metrics on %s/metrics", server.Addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("error serving metrics: %v", err)
		}
	}()
}
