package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// clockSkew is the tolerance applied to the exp/nbf claims to absorb clock
// drift between the issuer and this process.
const clockSkew = 30 * time.Second

// BearerValidator verifies HS256-signed bearer tokens against a shared
// secret and maps the "sub"/"cap" claims onto an AuthInfo.
type BearerValidator struct {
	secret []byte
	now    func() time.Time
}

func NewBearerValidator(secret string) *BearerValidator {
	return &BearerValidator{secret: []byte(secret), now: time.Now}
}

func (b *BearerValidator) Validate(creds Credentials) (*domain.AuthInfo, error) {
	if creds.BearerToken == "" {
		return nil, domain.ErrAuthFailed
	}
	claims, err := b.verify(creds.BearerToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}
	principal, _ := claims["sub"].(string)
	if principal == "" {
		return nil, fmt.Errorf("%w: token missing subject claim", domain.ErrAuthFailed)
	}
	var caps []string
	if raw, ok := claims["cap"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				caps = append(caps, s)
			}
		}
	}
	return &domain.AuthInfo{Principal: principal, Capabilities: caps, Metadata: map[string]string{"method": "bearer"}}, nil
}

func (b *BearerValidator) verify(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed token: expected 3 parts, got %d", len(parts))
	}
	headerB64, payloadB64, sigB64 := parts[0], parts[1], parts[2]

	headerBytes, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if alg, _ := header["alg"].(string); alg != "HS256" {
		return nil, fmt.Errorf("unsupported algorithm: %v", header["alg"])
	}

	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(headerB64 + "." + payloadB64))
	expected := mac.Sum(nil)

	actual, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if !hmac.Equal(expected, actual) {
		return nil, fmt.Errorf("signature mismatch")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	now := b.now()
	if exp, ok := claims["exp"].(float64); ok {
		if time.Unix(int64(exp), 0).Add(clockSkew).Before(now) {
			return nil, fmt.Errorf("token expired")
		}
	}
	if nbf, ok := claims["nbf"].(float64); ok {
		if time.Unix(int64(nbf), 0).After(now.Add(clockSkew)) {
			return nil, fmt.Errorf("token not yet valid")
		}
	}
	return claims, nil
}
