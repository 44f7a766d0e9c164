package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject root for published events.
const DefaultSubjectPrefix = "cadence.events"

// NATSBus publishes events to NATS subjects:
//
//	{prefix}.{event_name}
//
// e.g. cadence.events.phase_transition. Subscribers use
// "{prefix}.>" to receive everything.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	owned  bool
}

// NewNATSBus wraps an existing connection. The caller keeps ownership of nc.
func NewNATSBus(nc *nats.Conn, prefix string, logger *zap.Logger) (*NATSBus, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBus{
		nc:     nc,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.Named("events"),
	}, nil
}

// ConnectNATS dials url and returns a bus that owns the connection.
func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("cadence"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	bus, err := NewNATSBus(nc, prefix, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	bus.owned = true
	return bus, nil
}

// Subject returns the subject an event name is published on.
func (b *NATSBus) Subject(name string) string {
	return b.prefix + "." + name
}

// Publish marshals the event to JSON and publishes it.
func (b *NATSBus) Publish(ctx context.Context, event DeltaEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := b.Subject(event.Name)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	b.logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
	)
	return nil
}

// Close flushes pending messages and, when the bus owns the connection,
// closes it.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.nc.FlushTimeout(2 * time.Second); err != nil {
		b.logger.Warn("flush on close failed", zap.Error(err))
	}
	if b.owned {
		b.nc.Close()
	}
	return nil
}
