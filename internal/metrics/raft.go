// Package metrics define las métricas Prometheus del proceso. Viven en un
// paquete aparte para evitar ciclos entre cluster, controlplane y http.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// ─── Consenso ───

var (
	RaftApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raft_apply_latency_ms",
		Help:    "Latencia propose→apply en el líder, en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	RaftLeadershipChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raft_leadership_changes_total",
		Help: "Cambios de rol a leader",
	})

	RaftLogSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raft_log_size_bytes",
		Help: "Tamaño en bytes del archivo de log/stable (BoltDB)",
	})

	RaftTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raft_current_term",
		Help: "Término actual del nodo",
	})

	RaftCommitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raft_commit_index",
		Help: "Commit index del nodo",
	})

	RaftApplyRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raft_apply_retries_total",
		Help: "Reintentos de apply por errores transitorios del FSM",
	})
)

// RegisterRaft registra las métricas de consenso (reg nil = default).
func RegisterRaft(reg prometheus.Registerer) error {
	return register(reg,
		RaftApplyLatency, RaftLeadershipChanges, RaftLogSizeBytes,
		RaftTerm, RaftCommitIndex, RaftApplyRetries,
	)
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
