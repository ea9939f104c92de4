package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// signalSubject is the NATS subject prefix for cross-instance signal
// fan-out. Cauce topic segments (dot-separated [A-Za-z0-9_-]) are valid NATS
// subject tokens as-is, so a topic "orders.created" becomes subject
// "signals.orders.created" with no escaping.
const signalSubject = "signals"

// NATSBroker wraps a NATS connection with JetStream support, publishing
// every routed signal to a shared stream so peer cauce-hub instances can
// redeliver it to subscribers connected to them.
type NATSBroker struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSBroker connects to a NATS server and enables JetStream.
func NewNATSBroker(url string) (*NATSBroker, error) {
	logger := slog.Default().With("component", "broker")

	opts := []nats.Option{
		nats.Name("cauce-hub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	return &NATSBroker{conn: nc, js: js, logger: logger}, nil
}

// Close drains the connection (flushes pending messages) and disconnects.
func (b *NATSBroker) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}

// EnsureStreams creates the SIGNALS stream if it does not already exist.
// Retention is interest-based: a signal that no instance is listening for
// is simply dropped rather than piling up, since cross-instance fan-out is
// best-effort — the tracker's own redelivery loop is the durable path.
func (b *NATSBroker) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        "SIGNALS",
		Description: "Cross-instance signal fan-out for cauce-hub",
		Subjects:    []string{signalSubject + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      1 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		MaxBytes:    512 * 1024 * 1024,
	}

	if _, err := b.js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	b.logger.Info("JetStream stream ready", "stream", cfg.Name)
	return nil
}

func subjectForTopic(topic string) string {
	return signalSubject + "." + topic
}

// PublishSignal publishes a routed delivery for cross-instance fan-out.
func (b *NATSBroker) PublishSignal(ctx context.Context, delivery domain.SignalDelivery) error {
	data, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("marshal signal delivery: %w", err)
	}

	subject := subjectForTopic(delivery.Topic)
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	b.logger.Debug("published signal", "subject", subject, "signal_id", delivery.Signal.ID, "bytes", len(data))
	return nil
}

// SubscribeSignals subscribes to every signal published cluster-wide via an
// ephemeral (non-durable) consumer — a missed message just means this
// instance's local subscribers wait for the tracker's own redelivery.
func (b *NATSBroker) SubscribeSignals(ctx context.Context, handler func(domain.SignalDelivery)) error {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, "SIGNALS", jetstream.ConsumerConfig{
		FilterSubject:     signalSubject + ".>",
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create ephemeral consumer for %s.>: %w", signalSubject, err)
	}

	_, err = cons.Consume(func(msg jetstream.Msg) {
		var delivery domain.SignalDelivery
		if err := json.Unmarshal(msg.Data(), &delivery); err != nil {
			b.logger.Error("unmarshal signal delivery", "error", err, "subject", msg.Subject())
			return
		}
		handler(delivery)
	})
	if err != nil {
		return fmt.Errorf("consume %s.>: %w", signalSubject, err)
	}

	b.logger.Info("subscribed to cluster-wide signal fan-out")
	return nil
}

// Ping verifies the NATS connection is alive and JetStream is available.
func (b *NATSBroker) Ping() error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats: not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.js.AccountInfo(ctx); err != nil {
		return fmt.Errorf("nats jetstream ping: %w", err)
	}
	return nil
}
