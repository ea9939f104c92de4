package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

func testDelivery() domain.SignalDelivery {
	return domain.SignalDelivery{
		Topic: "orders.created",
		Signal: domain.Signal{
			ID:      "sig_1700000000_abcdefghijkl",
			Topic:   "orders.created",
			Payload: domain.Payload{Raw: []byte(`{"ok":true}`), SizeBytes: 11},
		},
	}
}

func TestWebhook_DeliverSignsBodyAndSucceedsOn2xx(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Cauce-Signature")
		assert.Equal(t, "custom-value", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(nil)
	cfg := &domain.WebhookConfig{URL: srv.URL, Secret: "s3cr3t", Headers: map[string]string{"X-Custom": "custom-value"}}
	err := w.Deliver(context.Background(), cfg, testDelivery())
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write(gotBody)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhook_DeliverFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(nil)
	cfg := &domain.WebhookConfig{URL: srv.URL}
	err := w.Deliver(context.Background(), cfg, testDelivery())
	require.Error(t, err)
}

func TestWebhook_DeliverOmitsSignatureWithoutSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Cauce-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(nil)
	cfg := &domain.WebhookConfig{URL: srv.URL}
	require.NoError(t, w.Deliver(context.Background(), cfg, testDelivery()))
	assert.Empty(t, gotSig)
}
