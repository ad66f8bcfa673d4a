package metrics

import "github.com/prometheus/client_golang/prometheus"

// ─── Config manager ───

var (
	// ConfigProposals cuenta mutaciones por op (create|update) y resultado
	// (ok|invalid|conflict|not_leader|timeout|error).
	ConfigProposals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "config_proposals_total",
		Help: "Mutaciones de configuración propuestas",
	}, []string{"op", "result"})

	// ConfigApplied cuenta entradas aplicadas por resultado (ok|conflict|duplicate).
	ConfigApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "config_applied_total",
		Help: "Entradas committed aplicadas al storage",
	}, []string{"result"})

	// ConfigNotifications cuenta entregas al notifier (ok|retry|dropped).
	ConfigNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "config_notifications_total",
		Help: "Eventos de cambio entregados a watchers",
	}, []string{"result"})

	ConfigNotifyQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "config_notify_queue_length",
		Help: "Eventos pendientes en la cola de notificación",
	})
)

// RegisterConfig registra las métricas del config manager.
func RegisterConfig(reg prometheus.Registerer) error {
	return register(reg, ConfigProposals, ConfigApplied, ConfigNotifications, ConfigNotifyQueue)
}
