// Package reservoir implements the two waiting-rider pools (depot FIFO
// queues and route grid segments) plus the services they share: statistics,
// the expiration sweeper and the spawn coordinator.
package reservoir

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/citygrid/transit-sim/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// riderEvents counts lifecycle events per reservoir for /metrics.
var riderEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "transit",
	Name:      "rider_events_total",
	Help:      "Rider lifecycle events by reservoir.",
}, []string{"reservoir", "event"})

// waitingRiders gauges the current pool sizes.
var waitingRiders = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "transit",
	Name:      "waiting_riders",
	Help:      "Riders currently waiting, by reservoir.",
}, []string{"reservoir"})

// Stats tracks a reservoir's lifecycle counters. Counters are atomic;
// snapshots are advisory and never part of boarding invariants.
type Stats struct {
	name      string
	createdAt time.Time

	spawned  atomic.Int64
	boarded  atomic.Int64
	expired  atomic.Int64
	rejected atomic.Int64
}

// NewStats creates a counter set for the named reservoir.
func NewStats(name string) *Stats {
	return &Stats{name: name, createdAt: time.Now()}
}

func (s *Stats) IncSpawned() {
	s.spawned.Add(1)
	riderEvents.WithLabelValues(s.name, "spawned").Inc()
	waitingRiders.WithLabelValues(s.name).Inc()
}

func (s *Stats) IncBoarded() {
	s.boarded.Add(1)
	riderEvents.WithLabelValues(s.name, "boarded").Inc()
	waitingRiders.WithLabelValues(s.name).Dec()
}

func (s *Stats) IncExpired() {
	s.expired.Add(1)
	riderEvents.WithLabelValues(s.name, "expired").Inc()
	waitingRiders.WithLabelValues(s.name).Dec()
}

func (s *Stats) IncRejected() {
	s.rejected.Add(1)
	riderEvents.WithLabelValues(s.name, "rejected").Inc()
}

// Snapshot is a point-in-time view of the counters with derived rates.
type Snapshot struct {
	Reservoir      string    `json:"reservoir"`
	Spawned        int64     `json:"spawned"`
	Boarded        int64     `json:"boarded"`
	Expired        int64     `json:"expired"`
	Rejected       int64     `json:"rejected"`
	CreatedAt      time.Time `json:"created_at"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
	SpawnedPerHour float64   `json:"spawned_per_hour"`
	BoardedPerHour float64   `json:"boarded_per_hour"`
}

// Snapshot reads the counters under atomic loads.
func (s *Stats) Snapshot() Snapshot {
	uptime := time.Since(s.createdAt)
	hours := uptime.Hours()
	if hours <= 0 {
		hours = 1.0 / 3600
	}
	spawned := s.spawned.Load()
	boarded := s.boarded.Load()
	return Snapshot{
		Reservoir:      s.name,
		Spawned:        spawned,
		Boarded:        boarded,
		Expired:        s.expired.Load(),
		Rejected:       s.rejected.Load(),
		CreatedAt:      s.createdAt,
		UptimeSeconds:  uptime.Seconds(),
		SpawnedPerHour: float64(spawned) / hours,
		BoardedPerHour: float64(boarded) / hours,
	}
}

// RunLogger logs a summary every interval until the context is cancelled.
func (s *Stats) RunLogger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Snapshot()
			logger.Info("reservoir stats",
				zap.String("reservoir", snap.Reservoir),
				zap.Int64("spawned", snap.Spawned),
				zap.Int64("boarded", snap.Boarded),
				zap.Int64("expired", snap.Expired),
				zap.Int64("rejected", snap.Rejected),
				zap.Float64("spawned_per_hour", snap.SpawnedPerHour),
			)
		}
	}
}
