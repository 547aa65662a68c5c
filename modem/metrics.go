package modem

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects chat engine counters. A nil *Metrics records nothing.
type Metrics struct {
	ScriptsStarted     *prometheus.CounterVec
	ScriptResults      *prometheus.CounterVec
	LinesReceived      prometheus.Counter
	RequestsSent       prometheus.Counter
	UnsolicitedMatches prometheus.Counter
	Overflows          *prometheus.CounterVec
}

// NewMetrics creates the chat metrics and registers them with reg when reg
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScriptsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modemchat",
				Subsystem: "script",
				Name:      "started_total",
				Help:      "Total number of scripts started",
			},
			[]string{"script"},
		),

		ScriptResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modemchat",
				Subsystem: "script",
				Name:      "results_total",
				Help:      "Total number of script results by outcome",
			},
			[]string{"script", "result"},
		),

		LinesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "modemchat",
				Subsystem: "lines",
				Name:      "received_total",
				Help:      "Total number of framed lines received",
			},
		),

		RequestsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "modemchat",
				Subsystem: "requests",
				Name:      "sent_total",
				Help:      "Total number of request lines written to the transport",
			},
		),

		UnsolicitedMatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "modemchat",
				Subsystem: "unsolicited",
				Name:      "matches_total",
				Help:      "Total number of lines matched by the unsolicited table",
			},
		),

		Overflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modemchat",
				Subsystem: "parser",
				Name:      "overflows_total",
				Help:      "Total number of rejected lines (kind=line|args)",
			},
			[]string{"kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ScriptsStarted,
			m.ScriptResults,
			m.LinesReceived,
			m.RequestsSent,
			m.UnsolicitedMatches,
			m.Overflows,
		)
	}
	return m
}

func (m *Metrics) scriptStarted(name string) {
	if m == nil {
		return
	}
	m.ScriptsStarted.WithLabelValues(name).Inc()
}

func (m *Metrics) scriptFinished(name string, result Result) {
	if m == nil {
		return
	}
	m.ScriptResults.WithLabelValues(name, result.String()).Inc()
}

func (m *Metrics) lineReceived() {
	if m == nil {
		return
	}
	m.LinesReceived.Inc()
}

func (m *Metrics) requestSent() {
	if m == nil {
		return
	}
	m.RequestsSent.Inc()
}

func (m *Metrics) unsolicitedMatched() {
	if m == nil {
		return
	}
	m.UnsolicitedMatches.Inc()
}

func (m *Metrics) overflow(kind string) {
	if m == nil {
		return
	}
	m.Overflows.WithLabelValues(kind).Inc()
}
