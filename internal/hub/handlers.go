package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
	"github.com/cauce-ai/cauce-hub/internal/jsonrpc"
	"github.com/cauce-ai/cauce-hub/internal/router"
	"github.com/cauce-ai/cauce-hub/internal/subscription"
)

// handleSubscribe backs both cauce.subscribe and cauce.subscription.request.
// The two methods share every semantic except who decides the approval
// path: cauce.subscribe is for adapters/agents that want immediate,
// unattended activation, while cauce.subscription.request always routes
// through a human approval step regardless of what the client sent.
func (h *Hub) handleSubscribe(sess *domain.Session, rawParams json.RawMessage, forcedApproval domain.ApprovalType, now time.Time) (any, *jsonrpc.Error) {
	params, perr := unmarshalParams[SubscribeParams](rawParams)
	if perr != nil {
		return nil, perr
	}

	sub, err := h.Subs.Subscribe(sess.ClientID, sess.SessionID, subscription.SubscribeRequest{
		Patterns:      params.Patterns,
		Approval:      forcedApproval,
		TransportPref: params.TransportPref,
		Webhook:       params.Webhook,
		E2E:           params.E2E,
		ExpiresAt:     params.ExpiresAt,
	}, now)
	if err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}

	return SubscribeResult{SubscriptionID: sub.SubscriptionID, Status: sub.Status}, nil
}

func (h *Hub) handleUnsubscribe(rawParams json.RawMessage) (any, *jsonrpc.Error) {
	params, perr := unmarshalParams[UnsubscribeParams](rawParams)
	if perr != nil {
		return nil, perr
	}
	if err := h.Subs.Unsubscribe(params.SubscriptionID); err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}
	return struct{}{}, nil
}

// handlePublish routes a signal to every matching subscription, tracks each
// delivery for at-least-once redelivery, and attempts an immediate local
// handoff. A subscription with no live local sender is left for the
// redelivery scheduler to pick up; if a cluster broker is configured the
// delivery is also fanned out so a peer instance holding the connection can
// deliver it sooner.
func (h *Hub) handlePublish(ctx context.Context, rawParams json.RawMessage, now time.Time) (any, *jsonrpc.Error) {
	params, perr := unmarshalParams[PublishParams](rawParams)
	if perr != nil {
		return nil, perr
	}

	if err := domain.ValidateTopic(params.Topic); err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}
	if params.Action != nil {
		return nil, jsonrpc.FromDomainError(domain.ErrActionsNotSignals)
	}
	if params.Signal == nil {
		return nil, jsonrpc.FromDomainError(domain.ErrInvalidField)
	}
	if h.cfg.MaxSignalSize > 0 && params.Signal.Payload.SizeBytes > h.cfg.MaxSignalSize {
		return nil, jsonrpc.FromDomainError(domain.ErrPayloadTooLarge)
	}
	if h.Payloads != nil && h.cfg.MaxInlinePayloadBytes > 0 && params.Signal.Payload.SizeBytes > h.cfg.MaxInlinePayloadBytes {
		ref, err := h.Payloads.Offload(ctx, params.Signal.ID, params.Signal.Payload)
		if err != nil {
			h.logger.Error("payload offload failed", "signal_id", params.Signal.ID, "error", err)
			return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "payload offload failed")
		}
		params.Signal.Payload.Raw = nil
		params.Signal.Payload.OffloadRef = ref
	}

	result, err := h.Router.Route(router.PublishRequest{
		Topic:  params.Topic,
		Signal: params.Signal,
	}, now)
	if err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}

	for _, subID := range result.SubscriptionIDs {
		d := result.Deliveries[subID]
		if err := h.Tracker.Track(subID, d, now); err != nil {
			h.logger.Warn("pending queue full, dropping delivery",
				"subscription_id", subID, "signal_id", d.Signal.ID, "error", err)
			continue
		}
		h.deliverNow(ctx, subID, d)
	}

	return PublishResult{MatchedSubscriptions: result.SubscriptionIDs}, nil
}

// deliverNow attempts a best-effort immediate handoff for one matched
// subscription: a live local sender first, then (for subscriptions
// configured for webhook delivery) a direct outbound dial, then cluster-wide
// fan-out. It never errors back to the publisher: a failed or absent
// handoff just leaves the delivery pending for the redelivery scheduler.
func (h *Hub) deliverNow(ctx context.Context, subscriptionID string, d domain.SignalDelivery) {
	if sender, ok := h.SenderLookup(subscriptionID); ok && sender.IsConnected() {
		if err := sender.SendSignal(d); err == nil {
			return
		}
	}

	if h.Webhook != nil {
		if sub, err := h.Subs.GetSubscription(subscriptionID); err == nil && sub.Webhook != nil {
			if err := h.Webhook.Deliver(ctx, sub.Webhook, d); err != nil {
				h.logger.Warn("webhook delivery failed", "subscription_id", subscriptionID, "error", err)
			} else {
				return
			}
		}
	}

	if h.Broker != nil {
		if err := h.Broker.PublishSignal(ctx, d); err != nil {
			h.logger.Warn("broker fan-out failed", "subscription_id", subscriptionID, "error", err)
		}
	}
}

func (h *Hub) handleAck(rawParams json.RawMessage) (any, *jsonrpc.Error) {
	params, perr := unmarshalParams[AckParams](rawParams)
	if perr != nil {
		return nil, perr
	}
	return h.Tracker.Ack(params.SubscriptionID, params.SignalIDs), nil
}

func (h *Hub) handleSubscriptionList(sess *domain.Session) (any, *jsonrpc.Error) {
	return h.Subs.GetSubscriptionsForClient(sess.ClientID), nil
}

func (h *Hub) handleApprove(rawParams json.RawMessage) (any, *jsonrpc.Error) {
	params, perr := unmarshalParams[ApproveParams](rawParams)
	if perr != nil {
		return nil, perr
	}
	if err := h.Subs.Approve(params.SubscriptionID, params.Restrictions); err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}
	return struct{}{}, nil
}

func (h *Hub) handleDeny(rawParams json.RawMessage) (any, *jsonrpc.Error) {
	params, perr := unmarshalParams[DenyParams](rawParams)
	if perr != nil {
		return nil, perr
	}
	if err := h.Subs.Deny(params.SubscriptionID, params.Reason); err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}
	return struct{}{}, nil
}

func (h *Hub) handleRevoke(rawParams json.RawMessage) (any, *jsonrpc.Error) {
	params, perr := unmarshalParams[RevokeParams](rawParams)
	if perr != nil {
		return nil, perr
	}
	if err := h.Subs.Revoke(params.SubscriptionID, params.Reason); err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}
	return struct{}{}, nil
}

func (h *Hub) handleSchemaGet(rawParams json.RawMessage) (any, *jsonrpc.Error) {
	params, perr := unmarshalParams[SchemaGetParams](rawParams)
	if perr != nil {
		return nil, perr
	}
	schema, ok := h.Schemas.Get(params.Name)
	if !ok {
		return nil, jsonrpc.FromDomainError(domain.ErrNotFound)
	}
	return schema, nil
}

// handleGoodbye tears down a session's server-side state: its sender
// handle, its active subscriptions, and the session record itself. A
// transport still owns closing the underlying connection.
func (h *Hub) handleGoodbye(sessionID string) (any, *jsonrpc.Error) {
	h.Subs.RevokeForSession(sessionID)
	h.Senders.Unregister(sessionID)
	if err := h.Sessions.RemoveSession(sessionID); err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}
	if h.SessionStore != nil {
		if err := h.SessionStore.DeleteSession(context.Background(), sessionID); err != nil {
			h.logger.Warn("session write-behind delete failed", "session_id", sessionID, "error", err)
		}
	}
	return struct{}{}, nil
}
