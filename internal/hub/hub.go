// Package hub wires the subscription manager, session manager, delivery
// tracker, router, auth validator, and rate limiter into the set of
// cauce.* JSON-RPC methods a transport dispatches to. Transports (WS, SSE,
// polling, webhook) hold no business logic of their own beyond framing;
// every method here is transport-agnostic.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/auth"
	"github.com/cauce-ai/cauce-hub/internal/broker"
	"github.com/cauce-ai/cauce-hub/internal/delivery"
	"github.com/cauce-ai/cauce-hub/internal/domain"
	"github.com/cauce-ai/cauce-hub/internal/jsonrpc"
	"github.com/cauce-ai/cauce-hub/internal/ratelimit"
	"github.com/cauce-ai/cauce-hub/internal/router"
	"github.com/cauce-ai/cauce-hub/internal/session"
	"github.com/cauce-ai/cauce-hub/internal/subscription"
)

// SenderRegistry maps a live session to the transport-specific handle that
// can push it a cauce.signal notification. One registry is shared by every
// transport so the redelivery scheduler's SenderLookup and the dispatcher's
// own publish path see the same live connections regardless of which
// transport each session arrived on.
type SenderRegistry struct {
	mu        sync.RWMutex
	bySession map[string]delivery.Sender
}

func NewSenderRegistry() *SenderRegistry {
	return &SenderRegistry{bySession: make(map[string]delivery.Sender)}
}

// Register associates a session with its transport handle, replacing any
// previous one (e.g. a reconnect).
func (r *SenderRegistry) Register(sessionID string, s delivery.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySession[sessionID] = s
}

// Unregister removes a session's handle, typically on disconnect or goodbye.
func (r *SenderRegistry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySession, sessionID)
}

// Get returns the currently registered handle for a session, if any.
func (r *SenderRegistry) Get(sessionID string) (delivery.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bySession[sessionID]
	return s, ok
}

// WebhookDialer delivers a signal to a subscription's configured webhook
// endpoint. It is satisfied by internal/transport's Webhook sender; the
// interface lives here, narrowed to exactly what the dispatcher needs, so
// this package never imports internal/transport.
type WebhookDialer interface {
	Deliver(ctx context.Context, webhook *domain.WebhookConfig, d domain.SignalDelivery) error
}

// PayloadOffloader moves a payload too large to carry inline into an
// out-of-band store and returns a reference to it. A nil Hub.Payloads
// disables offload entirely: payloads up to Config.MaxSignalSize are then
// carried inline.
type PayloadOffloader interface {
	Offload(ctx context.Context, signalID string, payload domain.Payload) (*domain.OffloadRef, error)
}

// SessionStore is the optional durable write-behind for sessions. A nil
// Hub.SessionStore leaves the in-memory session.Manager as the sole record;
// set it to survive a hub restart without dropping every live session.
type SessionStore interface {
	SaveSession(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Config bundles the subset of the hub's runtime configuration the
// dispatcher needs directly; everything else (addresses, which transports
// to mount) belongs to the caller assembling the Hub.
type Config struct {
	ServerName string
	SessionTTL time.Duration
	// MaxSignalSize is the hard ceiling on a signal's payload, inline or
	// offloaded; publishes past it are rejected outright.
	MaxSignalSize int
	// MaxInlinePayloadBytes is the threshold past which a payload is
	// offloaded via Hub.Payloads (if configured) instead of carried inline.
	// Zero disables offload regardless of whether Payloads is set.
	MaxInlinePayloadBytes int
}

// Hub composes every core component into the method table described by
// spec.md's transport handler contract. It holds no transport-specific
// state at all: a WebSocket, SSE, polling, or webhook handler calls Hello
// once per connection/session and Dispatch once per subsequent request.
type Hub struct {
	Sessions *session.Manager
	Subs     *subscription.Manager
	Tracker  *delivery.Tracker
	Router   *router.Router
	Auth     auth.Validator
	Limiter  *ratelimit.Limiter
	Schemas  *SchemaRegistry
	Senders  *SenderRegistry
	Broker   broker.SignalBroker // nil disables cross-instance fan-out
	Webhook  WebhookDialer       // nil disables webhook delivery
	Payloads PayloadOffloader    // nil disables payload offload

	// SessionStore is nil by default; set directly after New when a
	// deployment wants durable session write-behind. It is a plain field
	// rather than a New parameter since it is wiring, not core behavior.
	SessionStore SessionStore

	cfg    Config
	logger *slog.Logger
}

func New(
	sessions *session.Manager,
	subs *subscription.Manager,
	tracker *delivery.Tracker,
	rtr *router.Router,
	authenticator auth.Validator,
	limiter *ratelimit.Limiter,
	schemas *SchemaRegistry,
	signalBroker broker.SignalBroker,
	webhookDialer WebhookDialer,
	payloads PayloadOffloader,
	cfg Config,
	logger *slog.Logger,
) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Sessions: sessions,
		Subs:     subs,
		Tracker:  tracker,
		Router:   rtr,
		Auth:     authenticator,
		Limiter:  limiter,
		Schemas:  schemas,
		Senders:  NewSenderRegistry(),
		Broker:   signalBroker,
		Webhook:  webhookDialer,
		Payloads: payloads,
		cfg:      cfg,
		logger:   logger.With("component", "hub"),
	}
}

// SenderLookup satisfies delivery.SenderLookup: it resolves a subscription
// id to its owning session's currently registered transport handle.
func (h *Hub) SenderLookup(subscriptionID string) (delivery.Sender, bool) {
	sub, err := h.Subs.GetSubscription(subscriptionID)
	if err != nil {
		return nil, false
	}
	return h.Senders.Get(sub.SessionID)
}

// Hello validates credentials, creates a session, and returns the response
// a transport should send back before transitioning Greeting -> Ready.
// peerCertPrincipal is non-empty only for transports that terminated mTLS
// themselves; it is never read from the wire payload.
func (h *Hub) Hello(params HelloParams, transport, peerCertPrincipal string, now time.Time) (*domain.Session, *HelloResult, *jsonrpc.Error) {
	if params.ProtocolVersion != "" && params.ProtocolVersion != domain.ProtocolVersion {
		return nil, nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "unsupported protocol version")
	}

	creds := auth.Credentials{
		BearerToken:       params.Auth.BearerToken,
		APIKey:            params.Auth.APIKey,
		PeerCertPrincipal: peerCertPrincipal,
	}
	info, err := h.Auth.Validate(creds)
	if err != nil {
		return nil, nil, jsonrpc.FromDomainError(err)
	}

	sess := &domain.Session{
		SessionID:       domain.NewSessionID(),
		ClientID:        params.ClientID,
		ClientType:      params.ClientType,
		ProtocolVersion: domain.ProtocolVersion,
		Transport:       transport,
		Auth:            info,
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(h.cfg.SessionTTL),
	}
	if err := h.Sessions.CreateSession(sess); err != nil {
		return nil, nil, jsonrpc.FromDomainError(err)
	}
	if h.SessionStore != nil {
		if err := h.SessionStore.SaveSession(context.Background(), sess); err != nil {
			h.logger.Warn("session write-behind failed", "session_id", sess.SessionID, "error", err)
		}
	}

	expiresAt := sess.ExpiresAt
	return sess, &HelloResult{
		SessionID:        sess.SessionID,
		ServerVersion:    h.cfg.ServerName,
		Capabilities:     info.Capabilities,
		SessionExpiresAt: &expiresAt,
	}, nil
}

// Dispatch handles every cauce.* method recognized in the Ready state.
// Unknown methods return CodeMethodNotFound; malformed params return
// CodeInvalidParams. Every call first touches the session (extending its
// TTL) and consults the rate limiter keyed by the session's principal.
func (h *Hub) Dispatch(ctx context.Context, sessionID, method string, rawParams json.RawMessage, now time.Time) (any, *jsonrpc.Error) {
	sess, err := h.touchAndLoad(sessionID, now)
	if err != nil {
		return nil, err
	}

	if rlErr := h.checkRateLimit(sess, now); rlErr != nil {
		return nil, rlErr
	}

	switch method {
	case "cauce.subscribe":
		return h.handleSubscribe(sess, rawParams, domain.ApprovalAutomatic, now)
	case "cauce.subscription.request":
		return h.handleSubscribe(sess, rawParams, domain.ApprovalUserApproved, now)
	case "cauce.unsubscribe":
		return h.handleUnsubscribe(rawParams)
	case "cauce.publish":
		return h.handlePublish(ctx, rawParams, now)
	case "cauce.ack":
		return h.handleAck(rawParams)
	case "cauce.ping":
		return map[string]bool{"pong": true}, nil
	case "cauce.subscription.list":
		return h.handleSubscriptionList(sess)
	case "cauce.subscription.approve":
		return h.handleApprove(rawParams)
	case "cauce.subscription.deny":
		return h.handleDeny(rawParams)
	case "cauce.subscription.revoke":
		return h.handleRevoke(rawParams)
	case "cauce.schemas.list":
		return h.Schemas.List(), nil
	case "cauce.schemas.get":
		return h.handleSchemaGet(rawParams)
	case "cauce.goodbye":
		return h.handleGoodbye(sessionID)
	default:
		return nil, jsonrpc.ErrMethodNotFound
	}
}

func (h *Hub) touchAndLoad(sessionID string, now time.Time) (*domain.Session, *jsonrpc.Error) {
	if err := h.Sessions.TouchSession(sessionID, now, h.cfg.SessionTTL); err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}
	sess, err := h.Sessions.GetSession(sessionID, now)
	if err != nil {
		return nil, jsonrpc.FromDomainError(err)
	}
	return sess, nil
}

func (h *Hub) checkRateLimit(sess *domain.Session, now time.Time) *jsonrpc.Error {
	if h.Limiter == nil {
		return nil
	}
	key := sess.SessionID
	if sess.Auth != nil && sess.Auth.Principal != "" {
		key = sess.Auth.Principal
	}
	res := h.Limiter.TryAcquire(key, 1, now)
	if res.Allowed {
		return nil
	}
	return jsonrpc.NewErrorWithData(jsonrpc.CodeRateLimited, domain.ErrRateLimited.Error(), map[string]int64{"retry_after_ms": res.RetryAfterMS})
}

func unmarshalParams[T any](raw json.RawMessage) (T, *jsonrpc.Error) {
	var v T
	if len(raw) == 0 {
		return v, jsonrpc.ErrInvalidParams
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, jsonrpc.ErrInvalidParams
	}
	return v, nil
}
