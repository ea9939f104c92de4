package storage

import (
	"context"
	"io"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// SessionStore is the optional durable write-behind for sessions, so a hub
// restart does not silently drop every live connection's session record.
// The in-memory session manager remains authoritative for reads on the hot
// path; this interface is a persistence seam, not a cache-aside dependency.
type SessionStore interface {
	Ping(ctx context.Context) error
	SaveSession(ctx context.Context, s *domain.Session) error
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	LoadAllSessions(ctx context.Context) ([]*domain.Session, error)
}

// DeliveryEvent is one row of the delivery audit sink.
type DeliveryEvent struct {
	SubscriptionID string
	SignalID       string
	Topic          string
	EventType      string // "attempt", "ack", "dead_letter"
	AttemptCount   int
	OccurredAt     time.Time
}

// DeliveryAuditSink is an append-only log of delivery attempts, acks, and
// dead-letters for operational analytics. It is observability data only:
// nothing in the hub reads it back to make a delivery decision.
type DeliveryAuditSink interface {
	Ping(ctx context.Context) error
	RecordEvents(ctx context.Context, events []DeliveryEvent) error
	Close() error
}

// RateLimitCache is the subset of a Redis client the distributed rate
// limiter needs; kept as an interface so callers can swap in a fake in tests.
type RateLimitCache interface {
	Ping(ctx context.Context) error
}

// PayloadStore offloads signal payloads too large to carry inline.
type PayloadStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
