package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics mengumpulkan metrik domain ledger stok. Semua method aman
// dipanggil pada receiver nil.
type LedgerMetrics struct {
	movements       *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	lockWait        prometheus.Histogram
	lockRetries     prometheus.Counter
	lockTimeouts    prometheus.Counter
	inconsistencies prometheus.Counter
	alerts          *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	cache           *prometheus.CounterVec
}

// NewLedgerMetrics mendaftarkan kolektor ledger pada registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_movements_total",
			Help: "Jumlah baris pergerakan stok yang diposting per tipe.",
		}, []string{"type"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_rejections_total",
			Help: "Permintaan pergerakan yang ditolak per alasan.",
		}, []string{"reason"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockledger_lock_wait_seconds",
			Help:    "Waktu tunggu untuk memperoleh kunci stok.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		lockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockledger_lock_retries_total",
			Help: "Percobaan ulang akibat kontensi kunci.",
		}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockledger_lock_timeouts_total",
			Help: "Permintaan yang gagal setelah percobaan kunci habis.",
		}),
		inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockledger_ledger_inconsistencies_total",
			Help: "Selisih antara saldo dan log pergerakan yang terdeteksi.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_low_stock_alerts_total",
			Help: "Perubahan status peringatan stok rendah.",
		}, []string{"event"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_transfer_transitions_total",
			Help: "Transisi status transfer antar gudang.",
		}, []string{"status"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_balance_cache_total",
			Help: "Hit dan miss cache saldo.",
		}, []string{"result"}),
	}
	registerer.MustRegister(m.movements, m.rejections, m.lockWait, m.lockRetries, m.lockTimeouts,
		m.inconsistencies, m.alerts, m.transfers, m.cache)
	return m
}

// MovementPosted mencatat satu baris pergerakan.
func (m *LedgerMetrics) MovementPosted(movementType string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(movementType).Inc()
}

// Rejected mencatat penolakan.
func (m *LedgerMetrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// ObserveLockWait mencatat durasi akuisisi kunci.
func (m *LedgerMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// LockRetry mencatat satu percobaan ulang.
func (m *LedgerMetrics) LockRetry() {
	if m == nil {
		return
	}
	m.lockRetries.Inc()
}

// LockTimeout mencatat kegagalan akhir akuisisi kunci.
func (m *LedgerMetrics) LockTimeout() {
	if m == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// Inconsistency mencatat selisih ledger.
func (m *LedgerMetrics) Inconsistency() {
	if m == nil {
		return
	}
	m.inconsistencies.Inc()
}

// Alert mencatat peristiwa peringatan (opened, acknowledged, resolved).
func (m *LedgerMetrics) Alert(event string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(event).Inc()
}

// TransferTransition mencatat status baru sebuah transfer.
func (m *LedgerMetrics) TransferTransition(status string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(status).Inc()
}

// CacheResult mencatat hit atau miss cache saldo.
func (m *LedgerMetrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}
