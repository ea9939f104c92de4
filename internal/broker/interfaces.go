package broker

import (
	"context"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// SignalBroker fans a routed signal out to every cauce-hub process in a
// cluster, so a publish accepted on one instance can still reach a
// subscriber whose WebSocket/SSE connection terminates on another. A
// single-instance deployment runs with no SignalBroker at all; the hub
// treats a nil Hub.Broker as "local delivery only".
type SignalBroker interface {
	EnsureStreams(ctx context.Context) error
	PublishSignal(ctx context.Context, delivery domain.SignalDelivery) error
	SubscribeSignals(ctx context.Context, handler func(domain.SignalDelivery)) error
	Ping() error
	Close()
}
