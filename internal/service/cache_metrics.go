package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics agrupa los contadores de la caché de mensajes. Un *CacheMetrics
// nil es válido y no registra nada.
type CacheMetrics struct {
	Loads            *prometheus.CounterVec
	RemoteErrors     *prometheus.CounterVec
	Reconciliations  *prometheus.CounterVec
	ReconciledTotal  prometheus.Counter
	LocalWriteErrors prometheus.Counter
}

// NewCacheMetrics registra los contadores en reg. Con reg nil se crean sin
// registrar, útil en tests.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	factory := promauto.With(reg)
	return &CacheMetrics{
		Loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luna",
			Subsystem: "message_cache",
			Name:      "first_page_loads_total",
			Help:      "First page loads by source",
		}, []string{"source"}),
		RemoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luna",
			Subsystem: "message_cache",
			Name:      "remote_errors_total",
			Help:      "Remote channel failures by operation",
		}, []string{"op"}),
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luna",
			Subsystem: "message_cache",
			Name:      "reconciliations_total",
			Help:      "Background reconciliations by result",
		}, []string{"result"}),
		ReconciledTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "luna",
			Subsystem: "message_cache",
			Name:      "reconciled_messages_total",
			Help:      "Messages added by background reconciliation",
		}),
		LocalWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "luna",
			Subsystem: "message_cache",
			Name:      "local_write_errors_total",
			Help:      "Dropped local store writes",
		}),
	}
}

func (m *CacheMetrics) load(source string) {
	if m != nil {
		m.Loads.WithLabelValues(source).Inc()
	}
}

func (m *CacheMetrics) remoteError(op string) {
	if m != nil {
		m.RemoteErrors.WithLabelValues(op).Inc()
	}
}

func (m *CacheMetrics) reconciled(result string, added int) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(result).Inc()
	if added > 0 {
		m.ReconciledTotal.Add(float64(added))
	}
}

func (m *CacheMetrics) localWriteError() {
	if m != nil {
		m.LocalWriteErrors.Inc()
	}
}
