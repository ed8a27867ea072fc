package reservoir

import (
	"context"
	"time"

	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/eventbus"
	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// EventSink is the publishing half of the event bus. Tests substitute a
// recorder.
type EventSink interface {
	Publish(ctx context.Context, ch eventbus.Channel, event *eventbus.Event) error
}

// Sweepable is what the expiration manager needs from a reservoir: find the
// overdue riders, then expire them one by one.
type Sweepable interface {
	Name() string
	FindExpired(now time.Time) []string
	Expire(id string, now time.Time) (*rider.Rider, error)
}

// ExpirationManager periodically sweeps one reservoir for riders whose wait
// budget has run out and announces each expiry on the system channel.
type ExpirationManager struct {
	reservoir Sweepable
	sink      EventSink
	interval  time.Duration
	now       func() time.Time
}

// NewExpirationManager creates a sweeper over one reservoir.
func NewExpirationManager(reservoir Sweepable, sink EventSink, interval time.Duration) *ExpirationManager {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ExpirationManager{
		reservoir: reservoir,
		sink:      sink,
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
// Shutdown interrupts between riders, never mid-expiry.
func (m *ExpirationManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Info("expiration manager started",
		zap.String("reservoir", m.reservoir.Name()),
		zap.Duration("interval", m.interval),
	)
	for {
		select {
		case <-ctx.Done():
			logger.Info("expiration manager stopped", zap.String("reservoir", m.reservoir.Name()))
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs a single expiration pass. A failure on one rider is logged and
// the sweep continues with the rest.
func (m *ExpirationManager) Sweep(ctx context.Context) int {
	now := m.now()
	ids := m.reservoir.FindExpired(now)
	expired := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return expired
		default:
		}

		r, err := m.reservoir.Expire(id, now)
		if err != nil {
			logger.Warn("expire failed",
				zap.String("reservoir", m.reservoir.Name()),
				zap.String("rider_id", id),
				zap.Error(err),
			)
			continue
		}
		if r == nil {
			// Boarded between find and expire.
			continue
		}
		expired++

		event, err := eventbus.NewEvent(eventbus.TypeRiderExpired, "reservoir:"+m.reservoir.Name(), eventbus.RiderExpiredData{
			RiderID: r.ID,
			Reason:  "max_wait_exceeded",
		})
		if err != nil {
			logger.Warn("build expired event failed", zap.String("rider_id", r.ID), zap.Error(err))
			continue
		}
		if err := m.sink.Publish(ctx, eventbus.ChannelSystem, event); err != nil {
			logger.Warn("publish expired event failed", zap.String("rider_id", r.ID), zap.Error(err))
		}
	}
	if expired > 0 {
		logger.InfoContext(ctx, "expiration sweep",
			zap.String("reservoir", m.reservoir.Name()),
			zap.Int("expired", expired),
		)
	}
	return expired
}
