// Package delivery implements at-least-once delivery tracking: pending
// deliveries keyed by (subscription_id, signal_id), bulk ack, exponential
// backoff redelivery, and dead-lettering once a delivery exhausts its retry
// budget.
package delivery

import (
	"sync"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

type key struct {
	subscriptionID string
	signalID       string
}

// Tracker owns the pending-delivery and dead-letter tables. The pending map
// is a sharded-by-key concurrent structure in spirit; for each key, ack,
// record_redelivery, and move_to_dead_letter are mutually exclusive thanks
// to the single mutex guarding the map (point lookups keep it cheap).
type Tracker struct {
	cfg RedeliveryConfig

	mu           sync.Mutex
	pending      map[key]*domain.PendingDelivery
	pendingOrder map[string][]key // by subscription_id, oldest first; drop-oldest bookkeeping
	deadLetters  map[string][]*domain.DeadLetterRecord // by subscription_id

	isActive func(subscriptionID string) bool
}

// NewTracker builds a tracker. isActive lets the tracker consult the
// subscription manager's current status without importing that package;
// nil means "always active" (useful in isolated tests).
func NewTracker(cfg RedeliveryConfig, isActive func(subscriptionID string) bool) *Tracker {
	if isActive == nil {
		isActive = func(string) bool { return true }
	}
	return &Tracker{
		cfg:          cfg,
		pending:      make(map[key]*domain.PendingDelivery),
		pendingOrder: make(map[string][]key),
		deadLetters:  make(map[string][]*domain.DeadLetterRecord),
		isActive:     isActive,
	}
}

// Track records a new pending delivery. Re-tracking the same
// (subscription_id, signal_id) is idempotent: the existing record's attempt
// counters are left untouched.
//
// When the subscription's pending queue is already at
// cfg.MaxPendingPerSubscription, the configured back-pressure policy kicks
// in: by default the oldest pending delivery for that subscription is
// dropped to make room; with cfg.RejectOnPendingLimit set, the new delivery
// is rejected instead and Track returns domain.ErrLimitExceeded.
func (t *Tracker) Track(subscriptionID string, d domain.SignalDelivery, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{subscriptionID, d.Signal.ID}
	if _, exists := t.pending[k]; exists {
		return nil
	}

	if t.cfg.MaxPendingPerSubscription > 0 && len(t.pendingOrder[subscriptionID]) >= t.cfg.MaxPendingPerSubscription {
		if t.cfg.RejectOnPendingLimit {
			return domain.ErrLimitExceeded
		}
		oldest := t.pendingOrder[subscriptionID][0]
		t.pendingOrder[subscriptionID] = t.pendingOrder[subscriptionID][1:]
		delete(t.pending, oldest)
	}

	t.pending[k] = &domain.PendingDelivery{
		SubscriptionID: subscriptionID,
		Delivery:       d,
		FirstAttempt:   now,
		LastAttempt:    now,
		AttemptCount:   1,
		NextAttempt:    now.Add(t.cfg.InitialDelay),
	}
	t.pendingOrder[subscriptionID] = append(t.pendingOrder[subscriptionID], k)
	return nil
}

// removeFromOrder drops k from its subscription's pending-order slice. Used
// whenever a pending delivery leaves t.pending by a path other than the
// drop-oldest eviction in Track, so the bookkeeping slice never accumulates
// stale keys that would otherwise trigger premature evictions later.
func (t *Tracker) removeFromOrder(subscriptionID string, k key) {
	order := t.pendingOrder[subscriptionID]
	for i, ok := range order {
		if ok == k {
			t.pendingOrder[subscriptionID] = append(order[:i], order[i+1:]...)
			break
		}
	}
	if len(t.pendingOrder[subscriptionID]) == 0 {
		delete(t.pendingOrder, subscriptionID)
	}
}

// Ack bulk-acknowledges signal ids for a subscription. Ids with no pending
// record are reported as AckFailures rather than causing an error.
func (t *Tracker) Ack(subscriptionID string, signalIDs []string) domain.AckResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	var res domain.AckResult
	for _, id := range signalIDs {
		k := key{subscriptionID, id}
		if _, ok := t.pending[k]; ok {
			delete(t.pending, k)
			t.removeFromOrder(subscriptionID, k)
			res.Acknowledged = append(res.Acknowledged, id)
		} else {
			res.Failed = append(res.Failed, domain.AckFailure{SignalID: id, Reason: "not pending"})
		}
	}
	return res
}

// GetUnacked lists every pending delivery for a subscription.
func (t *Tracker) GetUnacked(subscriptionID string) []domain.SignalDelivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.SignalDelivery
	for k, pd := range t.pending {
		if k.subscriptionID == subscriptionID {
			out = append(out, pd.Delivery)
		}
	}
	return out
}

// GetForRedelivery returns every pending record due for a scheduler visit:
// next_attempt has passed and the owning subscription is still active. This
// includes records whose attempt_count has already reached max_attempts —
// those are due for a dead-letter decision rather than another send, so the
// caller (the scheduler) must check ShouldDeadLetter itself rather than
// assume every returned record is safe to resend.
func (t *Tracker) GetForRedelivery(now time.Time) []domain.PendingDelivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.PendingDelivery
	for _, pd := range t.pending {
		if !pd.NextAttempt.After(now) && t.isActive(pd.SubscriptionID) {
			out = append(out, *pd)
		}
	}
	return out
}

// RecordRedelivery advances a delivery's attempt counter and next_attempt
// after a handoff to a transport. It must be called regardless of whether
// the handoff actually reached a live connection, so backoff keeps
// progressing even for stale handles.
func (t *Tracker) RecordRedelivery(subscriptionID, signalID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{subscriptionID, signalID}
	pd, ok := t.pending[k]
	if !ok {
		return
	}
	pd.AttemptCount++
	pd.LastAttempt = now
	pd.NextAttempt = now.Add(t.cfg.Delay(pd.AttemptCount))
}

// MoveToDeadLetter removes a pending delivery and appends it to the
// dead-letter list for its subscription.
func (t *Tracker) MoveToDeadLetter(subscriptionID, signalID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{subscriptionID, signalID}
	pd, ok := t.pending[k]
	if !ok {
		return
	}
	delete(t.pending, k)
	t.removeFromOrder(subscriptionID, k)
	t.deadLetters[subscriptionID] = append(t.deadLetters[subscriptionID], &domain.DeadLetterRecord{
		SubscriptionID: subscriptionID,
		Delivery:       pd.Delivery,
		Reason:         domain.ReasonMaxAttemptsExceeded,
		FirstAttempt:   pd.FirstAttempt,
		LastAttempt:    pd.LastAttempt,
		AttemptCount:   pd.AttemptCount,
		DeadLetteredAt: now,
	})
}

// GetDeadLetters returns every dead-lettered delivery for a subscription.
func (t *Tracker) GetDeadLetters(subscriptionID string) []domain.DeadLetterRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	recs := t.deadLetters[subscriptionID]
	out := make([]domain.DeadLetterRecord, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out
}

// Cleanup removes dead-letter records older than retention, returning the
// count removed. Pending deliveries have no retention window of their own
// (they end either in ack, redelivery, or dead-letter).
func (t *Tracker) Cleanup(now time.Time, retention time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for subID, recs := range t.deadLetters {
		kept := recs[:0]
		for _, r := range recs {
			if now.Sub(r.DeadLetteredAt) > retention {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(t.deadLetters, subID)
		} else {
			t.deadLetters[subID] = kept
		}
	}
	return removed
}

// ShouldDeadLetter reports whether a pending delivery has exhausted its
// retry budget and belongs in the dead-letter list instead of pending.
func (t *Tracker) ShouldDeadLetter(attemptCount int) bool {
	return !t.cfg.ShouldAttempt(attemptCount)
}
