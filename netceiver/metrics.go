package netceiver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "netcv"

// Metrics are the prometheus collectors of all NetCeiver adapters.
type Metrics struct {
	BytesForwarded *prometheus.CounterVec
	BytesDropped   *prometheus.CounterVec
	BytesDiscarded *prometheus.CounterVec
	CommitSteps    *prometheus.CounterVec

	SignalStrength *prometheus.GaugeVec
	SignalSNR      *prometheus.GaugeVec
	SignalLocked   *prometheus.GaugeVec
	SignalBER      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	adapterLabel := []string{"adapter"}
	return &Metrics{
		BytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "forwarded_bytes_total",
			Help:      "Transport stream bytes written to the adapter pipe.",
		}, adapterLabel),
		BytesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_bytes_total",
			Help:      "Transport stream bytes dropped because the adapter pipe was full.",
		}, adapterLabel),
		BytesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "discarded_bytes_total",
			Help:      "Transport stream bytes discarded while no PIDs were requested.",
		}, adapterLabel),
		CommitSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commit_steps_total",
			Help:      "Receiver operations performed while committing pending changes.",
		}, []string{"adapter", "step", "result"}),
		SignalStrength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "signal_strength",
			Help:      "Last reported signal strength (0-255).",
		}, adapterLabel),
		SignalSNR: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "signal_snr",
			Help:      "Last reported signal to noise ratio (0-255).",
		}, adapterLabel),
		SignalLocked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "signal_locked",
			Help:      "1 if the demodulator reported a full lock.",
		}, adapterLabel),
		SignalBER: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "signal_ber",
			Help:      "Last reported bit error rate.",
		}, adapterLabel),
	}
}

// slotMetrics are the collectors of one adapter, resolved once so the
// callback path does no label lookups.
type slotMetrics struct {
	forwarded prometheus.Counter
	dropped   prometheus.Counter
	discarded prometheus.Counter
	steps     *prometheus.CounterVec

	strength prometheus.Gauge
	snr      prometheus.Gauge
	locked   prometheus.Gauge
	ber      prometheus.Gauge
}

func (m *Metrics) forAdapter(id int) slotMetrics {
	label := strconv.Itoa(id)
	return slotMetrics{
		forwarded: m.BytesForwarded.WithLabelValues(label),
		dropped:   m.BytesDropped.WithLabelValues(label),
		discarded: m.BytesDiscarded.WithLabelValues(label),
		steps:     m.CommitSteps.MustCurryWith(prometheus.Labels{"adapter": label}),
		strength:  m.SignalStrength.WithLabelValues(label),
		snr:       m.SignalSNR.WithLabelValues(label),
		locked:    m.SignalLocked.WithLabelValues(label),
		ber:       m.SignalBER.WithLabelValues(label),
	}
}

func (m slotMetrics) step(name string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.steps.WithLabelValues(name, result).Inc()
}

func (m slotMetrics) signal(strength uint32, locked bool, snr uint32, ber uint32) {
	m.strength.Set(float64(strength))
	m.snr.Set(float64(snr))
	m.ber.Set(float64(ber))
	if locked {
		m.locked.Set(1)
	} else {
		m.locked.Set(0)
	}
}
