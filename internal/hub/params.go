package hub

import (
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// HelloParams is the payload of cauce.hello, the only method a transport
// accepts before a session exists.
type HelloParams struct {
	ClientID        string            `json:"client_id"`
	ClientType      domain.ClientType `json:"client_type"`
	ProtocolVersion string            `json:"protocol_version"`
	Auth            HelloAuthParams   `json:"auth"`
}

// HelloAuthParams carries whichever credential variant the client presents.
// PeerCertPrincipal is never read from the wire; transports that terminate
// mTLS fill it in from the verified connection state instead.
type HelloAuthParams struct {
	BearerToken string `json:"bearer_token,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
}

// HelloResult is returned on successful hello.
type HelloResult struct {
	SessionID        string     `json:"session_id"`
	ServerVersion    string     `json:"server_version"`
	Capabilities     []string   `json:"capabilities"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
}

// SubscribeParams is the payload of cauce.subscribe and cauce.subscription.request.
type SubscribeParams struct {
	Patterns      []string             `json:"patterns"`
	Approval      domain.ApprovalType  `json:"approval"`
	TransportPref string               `json:"transport,omitempty"`
	Webhook       *domain.WebhookConfig `json:"webhook,omitempty"`
	E2E           *domain.E2EConfig    `json:"e2e,omitempty"`
	ExpiresAt     *time.Time           `json:"expires_at,omitempty"`
}

// SubscribeResult is returned on a successful subscribe/subscription.request.
type SubscribeResult struct {
	SubscriptionID string                    `json:"subscription_id"`
	Status         domain.SubscriptionStatus `json:"status"`
}

// UnsubscribeParams is the payload of cauce.unsubscribe.
type UnsubscribeParams struct {
	SubscriptionID string `json:"subscription_id"`
}

// ApproveParams is the payload of cauce.subscription.approve.
type ApproveParams struct {
	SubscriptionID string               `json:"subscription_id"`
	Restrictions   *domain.Restrictions `json:"restrictions,omitempty"`
}

// DenyParams is the payload of cauce.subscription.deny.
type DenyParams struct {
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason,omitempty"`
}

// RevokeParams is the payload of cauce.subscription.revoke.
type RevokeParams struct {
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason,omitempty"`
}

// PublishParams is the payload of cauce.publish. Exactly one of Signal or
// Action is set; publishing an Action is rejected (see domain.ErrActionsNotSignals).
type PublishParams struct {
	Topic  string         `json:"topic"`
	Signal *domain.Signal `json:"signal,omitempty"`
	Action *domain.Action `json:"action,omitempty"`
}

// PublishResult reports which subscriptions a publish matched.
type PublishResult struct {
	MatchedSubscriptions []string `json:"matched_subscriptions"`
}

// AckParams is the payload of cauce.ack.
type AckParams struct {
	SubscriptionID string   `json:"subscription_id"`
	SignalIDs      []string `json:"signal_ids"`
}

// SchemaGetParams is the payload of cauce.schemas.get.
type SchemaGetParams struct {
	Name string `json:"name"`
}
