// Package metrics exposes Prometheus counters for ledger operations.
package metrics

import (
	"context"
	"net/http"

	"github.com/creativeai-labs/creditledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts ledger operations by name and outcome. It implements
// ledger.OperationLogger so the service reports outcomes without
// knowing about Prometheus.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
}

// NewRecorder builds a Recorder with its own registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations by operation name and outcome status.",
	}, []string{"operation", "status"})
	registry.MustRegister(operations)
	return &Recorder{registry: registry, operations: operations}
}

func (recorder *Recorder) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
}

// Handler serves the recorder's registry in Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{})
}
