package auth

import "github.com/cauce-ai/cauce-hub/internal/domain"

// APIKeyValidator looks up a static table of API keys to principal/capability
// pairs, for adapters that authenticate with a long-lived key instead of a
// bearer token.
type APIKeyValidator struct {
	keys map[string]domain.AuthInfo
}

func NewAPIKeyValidator(keys map[string]domain.AuthInfo) *APIKeyValidator {
	return &APIKeyValidator{keys: keys}
}

func (a *APIKeyValidator) Validate(creds Credentials) (*domain.AuthInfo, error) {
	if creds.APIKey == "" {
		return nil, domain.ErrAuthFailed
	}
	info, ok := a.keys[creds.APIKey]
	if !ok {
		return nil, domain.ErrAuthFailed
	}
	cp := info
	if cp.Metadata == nil {
		cp.Metadata = map[string]string{}
	}
	cp.Metadata["method"] = "api_key"
	return &cp, nil
}

// MTLSValidator trusts the peer certificate identity the transport layer
// already verified during the TLS handshake (TLS termination itself is out
// of scope for the core; this validator only maps an already-verified
// principal name onto an AuthInfo).
type MTLSValidator struct {
	allowed map[string][]string // principal -> capabilities
}

func NewMTLSValidator(allowed map[string][]string) *MTLSValidator {
	return &MTLSValidator{allowed: allowed}
}

func (m *MTLSValidator) Validate(creds Credentials) (*domain.AuthInfo, error) {
	if creds.PeerCertPrincipal == "" {
		return nil, domain.ErrAuthFailed
	}
	caps, ok := m.allowed[creds.PeerCertPrincipal]
	if !ok {
		return nil, domain.ErrAuthFailed
	}
	return &domain.AuthInfo{
		Principal:    creds.PeerCertPrincipal,
		Capabilities: caps,
		Metadata:     map[string]string{"method": "mtls"},
	}, nil
}
