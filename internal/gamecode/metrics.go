package gamecode

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Joins            *prometheus.CounterVec
	Rounds           prometheus.Counter
	Selected         prometheus.Counter
	Deliveries       *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	PoolMembers      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Joins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamecode_joins_total",
				Help: "Join attempts by result",
			},
			[]string{"result"},
		),
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamecode_rounds_total",
			Help: "Completed picks",
		}),
		Selected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamecode_selected_members_total",
			Help: "Members drawn across all picks",
		}),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamecode_deliveries_total",
				Help: "Private message deliveries by outcome",
			},
			[]string{"outcome"},
		),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gamecode_dispatch_duration_seconds",
			Help:    "Wall time of one fan-out",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		PoolMembers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gamecode_pool_members",
				Help: "Current pool size per guild",
			},
			[]string{"guild"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Joins, m.Rounds, m.Selected, m.Deliveries, m.DispatchDuration, m.PoolMembers)
	}
	return m
}

func (m *Metrics) observeJoin(result string) {
	if m == nil {
		return
	}
	m.Joins.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRound(selected int) {
	if m == nil {
		return
	}
	m.Rounds.Inc()
	m.Selected.Add(float64(selected))
}

func (m *Metrics) observeDelivery(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(d.Seconds())
}

func (m *Metrics) setPoolSize(guild int64, n int) {
	if m == nil {
		return
	}
	m.PoolMembers.WithLabelValues(strconv.FormatInt(guild, 10)).Set(float64(n))
}

func joinResult(added bool, err error) string {
	switch {
	case err == nil && added:
		return "added"
	case err == nil:
		return "duplicate"
	case err == ErrPoolClosed:
		return "closed"
	case err == ErrRecentlySelected:
		return "excluded"
	default:
		return "ineligible"
	}
}
