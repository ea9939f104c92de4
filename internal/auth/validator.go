// Package auth implements the Cauce auth validator: it maps a presented
// credential to a principal and capability set. The core calls it once per
// session at hello-time; subsequent requests consult the session's cached
// AuthInfo instead of re-validating.
package auth

import (
	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// Credentials is the union of credential shapes a hello request may present.
// Exactly one of these should be non-empty.
type Credentials struct {
	BearerToken       string
	APIKey            string
	PeerCertPrincipal string
}

// Validator maps presented credentials to an AuthInfo or domain.ErrAuthFailed.
type Validator interface {
	Validate(creds Credentials) (*domain.AuthInfo, error)
}

// Chain tries each validator in order and returns the first success. This
// lets a deployment accept bearer tokens, API keys, and mTLS identities
// side by side without the transport layer knowing which kind it received.
type Chain []Validator

func (c Chain) Validate(creds Credentials) (*domain.AuthInfo, error) {
	var lastErr error = domain.ErrAuthFailed
	for _, v := range c {
		info, err := v.Validate(creds)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
