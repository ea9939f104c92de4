// Package subscription implements the subscription manager: the lifecycle
// of subscriptions (create -> pending/active -> revoked/expired) and the
// client/session indices layered on top of the topic trie.
package subscription

import (
	"sync"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
	"github.com/cauce-ai/cauce-hub/internal/topic"
)

// Limits bounds how many patterns a single subscription may carry and how
// many subscriptions a single client may hold.
type Limits struct {
	MaxTopicsPerSubscription int
	MaxSubscriptionsPerClient int
}

// SubscribeRequest is the input to Subscribe.
type SubscribeRequest struct {
	Patterns      []string
	Approval      domain.ApprovalType
	TransportPref string
	Webhook       *domain.WebhookConfig
	E2E           *domain.E2EConfig
	ExpiresAt     *time.Time
}

// Manager owns the combined {trie, records, indices} structure as one
// logical unit, guarded by a single RW lock: a matching read must never
// observe a record in `active` while the trie lacks it, or vice versa.
type Manager struct {
	mu       sync.RWMutex
	trie     *topic.Trie
	records  map[string]*domain.Subscription
	byClient map[string][]string
	limits   Limits
}

func New(limits Limits) *Manager {
	return &Manager{
		trie:     topic.New(),
		records:  make(map[string]*domain.Subscription),
		byClient: make(map[string][]string),
		limits:   limits,
	}
}

// Subscribe validates patterns, enforces the configured limits, and creates
// a new subscription. Automatic approval indexes the patterns immediately;
// user-approved subscriptions stay pending and unindexed until Approve.
func (m *Manager) Subscribe(clientID, sessionID string, req SubscribeRequest, now time.Time) (*domain.Subscription, error) {
	if m.limits.MaxTopicsPerSubscription > 0 && len(req.Patterns) > m.limits.MaxTopicsPerSubscription {
		return nil, domain.ErrLimitExceeded
	}
	for _, p := range req.Patterns {
		if err := topic.ValidatePattern(p); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limits.MaxSubscriptionsPerClient > 0 && len(m.byClient[clientID]) >= m.limits.MaxSubscriptionsPerClient {
		return nil, domain.ErrLimitExceeded
	}

	sub := &domain.Subscription{
		SubscriptionID: domain.NewSubscriptionID(),
		ClientID:       clientID,
		SessionID:      sessionID,
		Patterns:       req.Patterns,
		Approval:       req.Approval,
		TransportPref:  req.TransportPref,
		Webhook:        req.Webhook,
		E2E:            req.E2E,
		CreatedAt:      now,
		ExpiresAt:      req.ExpiresAt,
	}
	if req.Approval == domain.ApprovalAutomatic {
		sub.Status = domain.SubscriptionActive
		m.index(sub)
	} else {
		sub.Status = domain.SubscriptionPending
	}

	m.records[sub.SubscriptionID] = sub
	m.byClient[clientID] = append(m.byClient[clientID], sub.SubscriptionID)

	cp := *sub
	return &cp, nil
}

func (m *Manager) index(sub *domain.Subscription) {
	for _, p := range sub.Patterns {
		m.trie.Insert(p, sub.SubscriptionID)
	}
}

func (m *Manager) unindex(sub *domain.Subscription) {
	for _, p := range sub.Patterns {
		m.trie.Remove(p, sub.SubscriptionID)
	}
}

// Unsubscribe removes a subscription and every pattern it registered.
func (m *Manager) Unsubscribe(subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.records[subscriptionID]
	if !ok {
		return domain.ErrNotFound
	}
	if sub.Status == domain.SubscriptionActive {
		m.unindex(sub)
	}
	delete(m.records, subscriptionID)
	m.byClient[sub.ClientID] = removeID(m.byClient[sub.ClientID], subscriptionID)
	return nil
}

// Approve transitions a pending subscription to active and indexes its patterns.
func (m *Manager) Approve(subscriptionID string, restrictions *domain.Restrictions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.records[subscriptionID]
	if !ok {
		return domain.ErrNotFound
	}
	if sub.Status != domain.SubscriptionPending {
		return domain.ErrInvalidSubscriptionState
	}
	sub.Status = domain.SubscriptionActive
	sub.Restrictions = restrictions
	m.index(sub)
	return nil
}

// Deny transitions a pending subscription to the terminal denied state.
func (m *Manager) Deny(subscriptionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.records[subscriptionID]
	if !ok {
		return domain.ErrNotFound
	}
	if sub.Status != domain.SubscriptionPending {
		return domain.ErrInvalidSubscriptionState
	}
	sub.Status = domain.SubscriptionDenied
	return nil
}

// Revoke transitions any non-terminal subscription to revoked, removing its
// patterns from the trie.
func (m *Manager) Revoke(subscriptionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.records[subscriptionID]
	if !ok {
		return domain.ErrNotFound
	}
	if isTerminal(sub.Status) {
		return domain.ErrInvalidSubscriptionState
	}
	if sub.Status == domain.SubscriptionActive {
		m.unindex(sub)
	}
	sub.Status = domain.SubscriptionRevoked
	return nil
}

func isTerminal(s domain.SubscriptionStatus) bool {
	switch s {
	case domain.SubscriptionDenied, domain.SubscriptionRevoked, domain.SubscriptionExpired:
		return true
	}
	return false
}

// GetSubscriptionsForTopic looks up matching ids via the trie, then filters
// to currently-matchable (active, non-expired) records.
func (m *Manager) GetSubscriptionsForTopic(topicStr string, now time.Time) []*domain.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.trie.Match(topicStr)
	out := make([]*domain.Subscription, 0, len(ids))
	for _, id := range ids {
		sub, ok := m.records[id]
		if !ok || !sub.Matchable(now) {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	return out
}

// GetSubscription returns a copy of one subscription record.
func (m *Manager) GetSubscription(subscriptionID string) (*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.records[subscriptionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// GetSubscriptionsForClient returns copies of every subscription owned by a client.
func (m *Manager) GetSubscriptionsForClient(clientID string) []*domain.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byClient[clientID]
	out := make([]*domain.Subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := m.records[id]; ok {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out
}

// CleanupExpired marks every active-but-past-expiry subscription expired and
// removes its patterns from the trie, returning the count changed.
func (m *Manager) CleanupExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, sub := range m.records {
		if sub.Status == domain.SubscriptionActive && sub.ExpiresAt != nil && !now.Before(*sub.ExpiresAt) {
			m.unindex(sub)
			sub.Status = domain.SubscriptionExpired
			count++
		}
	}
	return count
}

// RevokeForSession marks every non-terminal (pending or active)
// subscription owned by sessionID as revoked (used on cauce.goodbye),
// returning the ids revoked.
func (m *Manager) RevokeForSession(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var revoked []string
	for _, sub := range m.records {
		if sub.SessionID == sessionID && !isTerminal(sub.Status) {
			if sub.Status == domain.SubscriptionActive {
				m.unindex(sub)
			}
			sub.Status = domain.SubscriptionRevoked
			revoked = append(revoked, sub.SubscriptionID)
		}
	}
	return revoked
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
