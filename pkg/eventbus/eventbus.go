// Package eventbus adapts NATS to the simulation's namespaced
// publish/subscribe and request/response protocol. Traffic is partitioned
// into four logical channels (depot, route, vehicle, system) mapped to NATS
// subject prefixes; every message travels in the same envelope.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Channel is one of the four logical traffic partitions.
type Channel string

const (
	ChannelDepot   Channel = "depot"
	ChannelRoute   Channel = "route"
	ChannelVehicle Channel = "vehicle"
	ChannelSystem  Channel = "system"
)

// Event is the envelope for every message on the bus.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Target        string          `json:"target,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates an envelope with a fresh ID and UTC timestamp.
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      raw,
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Handler processes a received event.
type Handler func(ctx context.Context, event *Event) error

// Responder answers a request event with a response event.
type Responder func(ctx context.Context, event *Event) (*Event, error)

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string        // client connection name
	RequestTimeout time.Duration // default request/response deadline
	ReconnectMax   time.Duration // backoff cap while reconnecting
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "transit-sim",
		RequestTimeout: 5 * time.Second,
		ReconnectMax:   30 * time.Second,
	}
}

// Bus wraps a NATS connection plus the local fallback dispatcher used when
// publishing is undeliverable.
type Bus struct {
	conn     *nats.Conn
	cfg      Config
	fallback *FallbackDispatcher
	subs     []*nats.Subscription
}

// New connects to NATS. The connection retries forever with exponential
// backoff capped at cfg.ReconnectMax.
func New(cfg Config) (*Bus, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			delay := time.Second << uint(min(attempts, 10))
			if delay > cfg.ReconnectMax {
				delay = cfg.ReconnectMax
			}
			return delay
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("event bus disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("event bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("event bus connected", zap.String("url", cfg.URL))
	return &Bus{conn: nc, cfg: cfg, fallback: NewFallbackDispatcher()}, nil
}

// Fallback returns the local dispatcher. Components register in-process
// handlers here; they fire only when publishing is undeliverable.
func (b *Bus) Fallback() *FallbackDispatcher {
	return b.fallback
}

// Connected reports whether the NATS connection is currently up.
func (b *Bus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// subjectFor maps a channel and event type to a NATS subject,
// e.g. (route, "rider:spawned") -> "route.rider.spawned".
func subjectFor(ch Channel, eventType string) string {
	return string(ch) + "." + strings.ReplaceAll(eventType, ":", ".")
}

// Publish sends the event on its channel. While disconnected the message is
// dropped with a warning (never queued) and the local fallback handlers run
// instead; idempotent callers retry at the next tick.
func (b *Bus) Publish(ctx context.Context, ch Channel, event *Event) error {
	if event.CorrelationID == "" {
		if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
			event.CorrelationID = cid
		}
	}

	if !b.Connected() {
		logger.Warn("event bus unavailable, dropping message",
			zap.String("type", event.Type),
			zap.String("event_id", event.ID),
		)
		b.fallback.Dispatch(ctx, event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := subjectFor(ch, event.Type)
	if err := b.conn.Publish(subject, data); err != nil {
		logger.Warn("publish failed, running fallback handlers",
			zap.String("subject", subject),
			zap.Error(err),
		)
		b.fallback.Dispatch(ctx, event)
		return nil
	}

	logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
	)
	return nil
}

// Subscribe registers a handler for one event type on a channel. Envelopes
// that fail to decode or carry an unknown type are rejected with a warning
// before the handler runs.
func (b *Bus) Subscribe(ctx context.Context, ch Channel, eventType string, handler Handler) error {
	subject := subjectFor(ch, eventType)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		event, ok := decodeEnvelope(msg.Data)
		if !ok {
			return
		}
		hctx := ctx
		if event.CorrelationID != "" {
			hctx = logger.ContextWithCorrelationID(ctx, event.CorrelationID)
		}
		if err := handler(hctx, event); err != nil {
			logger.WarnContext(hctx, "event handler error",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Request publishes a request event and waits for the correlated response.
// A missing reply within the configured timeout returns ErrBusTimeout; the
// caller decides whether to retry or fall back.
func (b *Bus) Request(ctx context.Context, ch Channel, event *Event) (*Event, error) {
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	msg, err := b.conn.RequestWithContext(rctx, subjectFor(ch, event.Type), data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("request %s: %w", event.Type, common.ErrBusTimeout)
		}
		return nil, fmt.Errorf("request %s: %w", event.Type, err)
	}

	resp, ok := decodeEnvelope(msg.Data)
	if !ok {
		return nil, fmt.Errorf("request %s: malformed response", event.Type)
	}
	return resp, nil
}

// RegisterResponder answers requests of one event type on a channel. The
// response envelope inherits the request's correlation ID.
func (b *Bus) RegisterResponder(ctx context.Context, ch Channel, eventType string, responder Responder) error {
	subject := subjectFor(ch, eventType)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		request, ok := decodeEnvelope(msg.Data)
		if !ok {
			return
		}
		hctx := logger.ContextWithCorrelationID(ctx, request.CorrelationID)

		response, err := responder(hctx, request)
		if err != nil {
			logger.WarnContext(hctx, "responder error",
				zap.String("type", request.Type),
				zap.Error(err),
			)
			return
		}
		response.CorrelationID = request.CorrelationID
		response.Target = request.Source

		data, err := json.Marshal(response)
		if err != nil {
			logger.Warn("marshal response failed", zap.Error(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			logger.Warn("respond failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register responder %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Close drains subscriptions and the connection.
func (b *Bus) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	if b.conn != nil {
		_ = b.conn.Drain()
	}
	logger.Info("event bus closed")
}

func decodeEnvelope(data []byte) (*Event, bool) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		logger.Warn("malformed envelope dropped", zap.Error(err))
		return nil, false
	}
	if !KnownType(event.Type) {
		logger.Warn("unknown event type rejected", zap.String("type", event.Type))
		return nil, false
	}
	return &event, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
