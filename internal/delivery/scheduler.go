package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

const auditBatchCap = 200

// Sender is the minimal handle the scheduler needs to push a redelivery; the
// transport-specific implementations (WebSocket hub entry, SSE stream,
// webhook client) live in internal/transport and satisfy this interface
// without delivery needing to import transport.
type Sender interface {
	SendSignal(delivery domain.SignalDelivery) error
	IsConnected() bool
}

// SenderLookup resolves the transport handle currently responsible for a
// subscription, or false if none is registered (e.g. the owning session
// disconnected without a reconnect yet).
type SenderLookup func(subscriptionID string) (Sender, bool)

// AuditEvent is one row the scheduler reports for every redelivery attempt
// or dead-letter it drives. It mirrors storage.DeliveryEvent's shape without
// importing internal/storage, so a caller adapts the two with a thin
// wrapper rather than this package taking a dependency on a storage client.
type AuditEvent struct {
	SubscriptionID string
	SignalID       string
	Topic          string
	EventType      string // "attempt", "dead_letter"
	AttemptCount   int
	OccurredAt     time.Time
}

// AuditSink is the optional append-only delivery log a deployment may wire
// in for operational analytics. Never consulted to make a delivery decision.
type AuditSink interface {
	RecordEvents(ctx context.Context, events []AuditEvent) error
}

// DeadLetterSink is the optional durable home for a signal delivery that
// exhausted its retry budget, so an operator can inspect (and search) it
// after the in-memory record ages out.
type DeadLetterSink interface {
	RecordDeadLetter(ctx context.Context, rec domain.DeadLetterRecord) error
}

// Scheduler is the single long-lived background task that polls the tracker
// for due deliveries and hands them back to transports.
type Scheduler struct {
	tracker     *Tracker
	lookup      SenderLookup
	tick        time.Duration
	log         *slog.Logger
	audit       AuditSink
	deadLetters DeadLetterSink
}

func NewScheduler(tracker *Tracker, lookup SenderLookup, tick time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{tracker: tracker, lookup: lookup, tick: tick, log: log}
}

// WithAudit wires an append-only delivery audit sink into the scheduler.
// Returns the scheduler so callers can chain it onto NewScheduler.
func (s *Scheduler) WithAudit(sink AuditSink) *Scheduler {
	s.audit = sink
	return s
}

// WithDeadLetterSink wires durable dead-letter persistence into the
// scheduler.
func (s *Scheduler) WithDeadLetterSink(sink DeadLetterSink) *Scheduler {
	s.deadLetters = sink
	return s
}

// Run blocks until ctx is cancelled. It is a no-op loop (still cancellable)
// when the tracker's redelivery config is disabled.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.tracker.cfg.Enabled {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.sleepDuration(time.Now())):
			s.runOnce(time.Now())
		}
	}
}

func (s *Scheduler) sleepDuration(now time.Time) time.Duration {
	due := s.tracker.GetForRedelivery(now)
	if len(due) == 0 {
		return s.tick
	}
	return minDuration(s.tick, 0)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (s *Scheduler) runOnce(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("redelivery scheduler panic recovered", "panic", r)
		}
	}()

	due := s.tracker.GetForRedelivery(now)
	var events []AuditEvent
	for _, pd := range due {
		// A record already at (or past) max_attempts is due for a
		// dead-letter decision, not another send: GetForRedelivery
		// deliberately surfaces these too, so this scheduled visit is the
		// one that retires them instead of leaving them pending forever.
		if s.tracker.ShouldDeadLetter(pd.AttemptCount) {
			s.tracker.MoveToDeadLetter(pd.SubscriptionID, pd.Delivery.Signal.ID, now)
			events = append(events, AuditEvent{
				SubscriptionID: pd.SubscriptionID,
				SignalID:       pd.Delivery.Signal.ID,
				Topic:          pd.Delivery.Signal.Topic,
				EventType:      "dead_letter",
				AttemptCount:   pd.AttemptCount,
				OccurredAt:     now,
			})
			if s.deadLetters != nil {
				if recs := s.tracker.GetDeadLetters(pd.SubscriptionID); len(recs) > 0 {
					last := recs[len(recs)-1]
					if err := s.deadLetters.RecordDeadLetter(context.Background(), last); err != nil {
						s.log.Warn("dead-letter persistence failed", "subscription_id", pd.SubscriptionID, "signal_id", pd.Delivery.Signal.ID, "error", err)
					}
				}
			}
			continue
		}

		sender, ok := s.lookup(pd.SubscriptionID)
		if ok && sender.IsConnected() {
			if err := sender.SendSignal(pd.Delivery); err != nil {
				s.log.Warn("redelivery send failed", "subscription_id", pd.SubscriptionID, "signal_id", pd.Delivery.Signal.ID, "error", err)
			}
		}
		// record_redelivery runs whether or not a live handle was found, so
		// backoff keeps progressing on stale handles too.
		s.tracker.RecordRedelivery(pd.SubscriptionID, pd.Delivery.Signal.ID, now)
		events = append(events, AuditEvent{
			SubscriptionID: pd.SubscriptionID,
			SignalID:       pd.Delivery.Signal.ID,
			Topic:          pd.Delivery.Signal.Topic,
			EventType:      "attempt",
			AttemptCount:   pd.AttemptCount + 1,
			OccurredAt:     now,
		})
	}

	if s.audit != nil && len(events) > 0 {
		if len(events) > auditBatchCap {
			s.log.Warn("audit batch truncated", "dropped", len(events)-auditBatchCap)
			events = events[:auditBatchCap]
		}
		if err := s.audit.RecordEvents(context.Background(), events); err != nil {
			s.log.Warn("audit sink write failed", "error", err)
		}
	}
}
