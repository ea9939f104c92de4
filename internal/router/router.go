// Package router implements the message router: it composes the topic
// matcher (via the subscription manager) to turn a publish into one
// delivery intent per matching subscription. It does not perform the send;
// the caller threads each delivery through the tracker and the owning
// session's sender.
package router

import (
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// SubscriptionLookup is the narrow read-only view the router needs from the
// subscription manager, kept as an interface so router has no import-cycle
// dependency on the concrete manager type.
type SubscriptionLookup interface {
	GetSubscriptionsForTopic(topic string, now time.Time) []*domain.Subscription
}

// PublishRequest is the input to Route: exactly one of Signal or Action is set.
type PublishRequest struct {
	Topic  string
	Signal *domain.Signal
	Action *domain.Action
}

// RouteResult is the output of a route call: which subscriptions matched and
// the delivery each of them should receive.
type RouteResult struct {
	SubscriptionIDs []string
	Deliveries      map[string]domain.SignalDelivery // subscription_id -> delivery
}

func emptyResult() RouteResult {
	return RouteResult{Deliveries: map[string]domain.SignalDelivery{}}
}

// Router composes a SubscriptionLookup to resolve matching subscriptions
// and build their deliveries.
type Router struct {
	subs SubscriptionLookup
}

func New(subs SubscriptionLookup) *Router {
	return &Router{subs: subs}
}

// Route resolves the subscriptions matching req.Topic and builds a delivery
// for each. Publishing an Action through this path is rejected with
// domain.ErrActionsNotSignals; Route builds signal deliveries only.
func (r *Router) Route(req PublishRequest, now time.Time) (RouteResult, error) {
	signal, err := extractSignal(req)
	if err != nil {
		return RouteResult{}, err
	}

	matches := r.subs.GetSubscriptionsForTopic(req.Topic, now)
	if len(matches) == 0 {
		return emptyResult(), nil
	}

	result := RouteResult{Deliveries: make(map[string]domain.SignalDelivery, len(matches))}
	delivery := domain.SignalDelivery{Topic: req.Topic, Signal: *signal}
	for _, sub := range matches {
		result.SubscriptionIDs = append(result.SubscriptionIDs, sub.SubscriptionID)
		result.Deliveries[sub.SubscriptionID] = delivery
	}
	return result, nil
}

// GetMatchingSubscriptions exposes the read-only lookup for diagnostics.
func (r *Router) GetMatchingSubscriptions(topic string, now time.Time) []*domain.Subscription {
	return r.subs.GetSubscriptionsForTopic(topic, now)
}

func extractSignal(req PublishRequest) (*domain.Signal, error) {
	if req.Action != nil {
		return nil, domain.ErrActionsNotSignals
	}
	if req.Signal == nil {
		return nil, domain.ErrInvalidField
	}
	return req.Signal, nil
}
