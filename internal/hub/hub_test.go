package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cauce-ai/cauce-hub/internal/auth"
	"github.com/cauce-ai/cauce-hub/internal/delivery"
	"github.com/cauce-ai/cauce-hub/internal/domain"
	"github.com/cauce-ai/cauce-hub/internal/jsonrpc"
	"github.com/cauce-ai/cauce-hub/internal/ratelimit"
	"github.com/cauce-ai/cauce-hub/internal/router"
	"github.com/cauce-ai/cauce-hub/internal/session"
	"github.com/cauce-ai/cauce-hub/internal/subscription"
)

type staticValidator struct {
	info *domain.AuthInfo
	err  error
}

func (v staticValidator) Validate(auth.Credentials) (*domain.AuthInfo, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.info, nil
}

type fakeSender struct {
	connected bool
	sent      []domain.SignalDelivery
	sendErr   error
}

func (f *fakeSender) SendSignal(d domain.SignalDelivery) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, d)
	return nil
}

func (f *fakeSender) IsConnected() bool { return f.connected }

type fakeOffloader struct {
	calls []string
	err   error
}

func (f *fakeOffloader) Offload(_ context.Context, signalID string, _ domain.Payload) (*domain.OffloadRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, signalID)
	return &domain.OffloadRef{Bucket: "cauce-payloads", Key: "signals/" + signalID}, nil
}

func newTestHub(t *testing.T, limiter *ratelimit.Limiter) *Hub {
	t.Helper()
	subs := subscription.New(subscription.Limits{MaxTopicsPerSubscription: 10, MaxSubscriptionsPerClient: 10})
	tracker := delivery.NewTracker(delivery.DefaultRedeliveryConfig(), nil)
	return New(
		session.New(),
		subs,
		tracker,
		router.New(subs),
		staticValidator{info: &domain.AuthInfo{Principal: "adapter-1", Capabilities: []string{"publish", "subscribe"}}},
		limiter,
		NewSchemaRegistry(),
		nil,
		nil,
		nil,
		Config{ServerName: "cauce-hub-test", SessionTTL: time.Minute, MaxSignalSize: 1 << 20},
		nil,
	)
}

func helloParams() HelloParams {
	return HelloParams{
		ClientID:        "client-1",
		ClientType:      domain.ClientAdapter,
		ProtocolVersion: domain.ProtocolVersion,
		Auth:            HelloAuthParams{BearerToken: "whatever"},
	}
}

func TestHello_CreatesSession(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess, res, rpcErr := h.Hello(helloParams(), "websocket", "", now)
	require.Nil(t, rpcErr)
	require.NotNil(t, sess)
	assert.Equal(t, sess.SessionID, res.SessionID)
	assert.Equal(t, "cauce-hub-test", res.ServerVersion)
	assert.ElementsMatch(t, []string{"publish", "subscribe"}, res.Capabilities)
}

func TestHello_RejectsUnsupportedProtocolVersion(t *testing.T) {
	h := newTestHub(t, nil)
	params := helloParams()
	params.ProtocolVersion = "9.9"
	_, _, rpcErr := h.Hello(params, "websocket", "", time.Now())
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, rpcErr.Code)
}

func TestHello_PropagatesAuthFailure(t *testing.T) {
	h := newTestHub(t, nil)
	h.Auth = staticValidator{err: domain.ErrAuthFailed}
	_, _, rpcErr := h.Hello(helloParams(), "websocket", "", time.Now())
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeAuthFailed, rpcErr.Code)
}

func mustSession(t *testing.T, h *Hub, now time.Time) *domain.Session {
	t.Helper()
	sess, _, rpcErr := h.Hello(helloParams(), "websocket", "", now)
	require.Nil(t, rpcErr)
	return sess
}

func dispatch(t *testing.T, h *Hub, sessionID, method string, params any, now time.Time) (json.RawMessage, *jsonrpc.Error) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	result, rpcErr := h.Dispatch(context.Background(), sessionID, method, raw, now)
	if rpcErr != nil {
		return nil, rpcErr
	}
	encoded, err := json.Marshal(result)
	require.NoError(t, err)
	return encoded, nil
}

func TestDispatch_UnknownMethod(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)
	_, rpcErr := h.Dispatch(context.Background(), sess.SessionID, "cauce.nonexistent", nil, now)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)
}

func TestDispatch_UnknownSession(t *testing.T) {
	h := newTestHub(t, nil)
	_, rpcErr := h.Dispatch(context.Background(), "sess_missing", "cauce.ping", nil, time.Now())
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeSessionNotFound, rpcErr.Code)
}

func TestDispatch_Ping(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)
	result, rpcErr := h.Dispatch(context.Background(), sess.SessionID, "cauce.ping", nil, now)
	require.Nil(t, rpcErr)
	assert.Equal(t, map[string]bool{"pong": true}, result)
}

func TestDispatch_RateLimited(t *testing.T) {
	h := newTestHub(t, ratelimit.New(1, 0.0001))
	now := time.Now()
	sess := mustSession(t, h, now)

	_, rpcErr := h.Dispatch(context.Background(), sess.SessionID, "cauce.ping", nil, now)
	require.Nil(t, rpcErr)

	_, rpcErr = h.Dispatch(context.Background(), sess.SessionID, "cauce.ping", nil, now)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeRateLimited, rpcErr.Code)
}

func TestSubscribeAutomaticIsImmediatelyActive(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)

	raw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.subscribe", SubscribeParams{Patterns: []string{"orders.created"}}, now)
	require.Nil(t, rpcErr)

	var res SubscribeResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, domain.SubscriptionActive, res.Status)
}

func TestSubscriptionRequestStaysPending(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)

	raw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.subscription.request", SubscribeParams{Patterns: []string{"orders.created"}, Approval: domain.ApprovalAutomatic}, now)
	require.Nil(t, rpcErr)

	var res SubscribeResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, domain.SubscriptionPending, res.Status, "cauce.subscription.request always forces user approval regardless of the client's requested approval")
}

func TestApproveActivatesPendingSubscription(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)

	raw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.subscription.request", SubscribeParams{Patterns: []string{"orders.created"}}, now)
	require.Nil(t, rpcErr)
	var sub SubscribeResult
	require.NoError(t, json.Unmarshal(raw, &sub))

	_, rpcErr = dispatch(t, h, sess.SessionID, "cauce.subscription.approve", ApproveParams{SubscriptionID: sub.SubscriptionID}, now)
	require.Nil(t, rpcErr)

	list, rpcErr := dispatch(t, h, sess.SessionID, "cauce.subscription.list", nil, now)
	require.Nil(t, rpcErr)
	var subs []*domain.Subscription
	require.NoError(t, json.Unmarshal(list, &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, domain.SubscriptionActive, subs[0].Status)
}

func TestPublishDeliversToActiveSubscriptionAndTracksAck(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)

	raw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.subscribe", SubscribeParams{Patterns: []string{"orders.created"}}, now)
	require.Nil(t, rpcErr)
	var sub SubscribeResult
	require.NoError(t, json.Unmarshal(raw, &sub))

	sender := &fakeSender{connected: true}
	h.Senders.Register(sess.SessionID, sender)

	signal := &domain.Signal{ID: "sig_1700000000_abcdefghijkl", Topic: "orders.created", Payload: domain.Payload{Raw: []byte(`{}`), SizeBytes: 2}}
	pubRaw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.publish", PublishParams{Topic: "orders.created", Signal: signal}, now)
	require.Nil(t, rpcErr)

	var pubRes PublishResult
	require.NoError(t, json.Unmarshal(pubRaw, &pubRes))
	assert.Equal(t, []string{sub.SubscriptionID}, pubRes.MatchedSubscriptions)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, signal.ID, sender.sent[0].Signal.ID)

	ackRaw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.ack", AckParams{SubscriptionID: sub.SubscriptionID, SignalIDs: []string{signal.ID}}, now)
	require.Nil(t, rpcErr)
	var ackRes domain.AckResult
	require.NoError(t, json.Unmarshal(ackRaw, &ackRes))
	assert.Equal(t, []string{signal.ID}, ackRes.Acknowledged)
	assert.Empty(t, ackRes.Failed)
}

func TestPublishRejectsOversizedPayload(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)

	signal := &domain.Signal{ID: "sig_1700000000_abcdefghijkl", Topic: "orders.created", Payload: domain.Payload{SizeBytes: 1 << 30}}
	_, rpcErr := dispatch(t, h, sess.SessionID, "cauce.publish", PublishParams{Topic: "orders.created", Signal: signal}, now)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodePayloadTooLarge, rpcErr.Code)
}

func TestPublishOffloadsOversizedInlinePayload(t *testing.T) {
	subs := subscription.New(subscription.Limits{MaxTopicsPerSubscription: 10, MaxSubscriptionsPerClient: 10})
	offloader := &fakeOffloader{}
	h := New(
		session.New(),
		subs,
		delivery.NewTracker(delivery.DefaultRedeliveryConfig(), nil),
		router.New(subs),
		staticValidator{info: &domain.AuthInfo{Principal: "adapter-1", Capabilities: []string{"publish", "subscribe"}}},
		nil,
		NewSchemaRegistry(),
		nil,
		nil,
		offloader,
		Config{ServerName: "cauce-hub-test", SessionTTL: time.Minute, MaxSignalSize: 1 << 20, MaxInlinePayloadBytes: 16},
		nil,
	)

	now := time.Now()
	sess := mustSession(t, h, now)

	_, rpcErr := dispatch(t, h, sess.SessionID, "cauce.subscribe", SubscribeParams{Patterns: []string{"orders.created"}}, now)
	require.Nil(t, rpcErr)
	sender := &fakeSender{connected: true}
	h.Senders.Register(sess.SessionID, sender)

	signal := &domain.Signal{ID: "sig_1700000000_abcdefghijkl", Topic: "orders.created", Payload: domain.Payload{Raw: []byte(`{"big":"payload!!"}`), SizeBytes: 20}}
	raw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.publish", PublishParams{Topic: "orders.created", Signal: signal}, now)
	require.Nil(t, rpcErr)

	var res PublishResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, []string{signal.ID}, offloader.calls)
	// dispatch hands the hub a JSON copy, so check the delivered signal.
	require.Len(t, sender.sent, 1)
	delivered := sender.sent[0].Signal.Payload
	require.NotNil(t, delivered.OffloadRef)
	assert.Nil(t, delivered.Raw)
	assert.Equal(t, "signals/"+signal.ID, delivered.OffloadRef.Key)
}

func TestPublishRejectsAction(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)

	action := &domain.Action{ID: "act_1700000000_abcdefghijkl"}
	_, rpcErr := dispatch(t, h, sess.SessionID, "cauce.publish", PublishParams{Topic: "orders.created", Action: action}, now)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)
}

func TestRevokeRemovesSubscriptionFromRouting(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)

	raw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.subscribe", SubscribeParams{Patterns: []string{"orders.created"}}, now)
	require.Nil(t, rpcErr)
	var sub SubscribeResult
	require.NoError(t, json.Unmarshal(raw, &sub))

	_, rpcErr = dispatch(t, h, sess.SessionID, "cauce.subscription.revoke", RevokeParams{SubscriptionID: sub.SubscriptionID, Reason: "testing"}, now)
	require.Nil(t, rpcErr)

	signal := &domain.Signal{ID: "sig_1700000000_abcdefghijkl", Topic: "orders.created", Payload: domain.Payload{Raw: []byte(`{}`), SizeBytes: 2}}
	pubRaw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.publish", PublishParams{Topic: "orders.created", Signal: signal}, now)
	require.Nil(t, rpcErr)
	var pubRes PublishResult
	require.NoError(t, json.Unmarshal(pubRaw, &pubRes))
	assert.Empty(t, pubRes.MatchedSubscriptions)
}

func TestSchemaGetRoundTrip(t *testing.T) {
	h := newTestHub(t, nil)
	h.Schemas.Register(Schema{Name: "order.created.v1", Version: "1", Definition: map[string]any{"type": "object"}})
	now := time.Now()
	sess := mustSession(t, h, now)

	raw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.schemas.get", SchemaGetParams{Name: "order.created.v1"}, now)
	require.Nil(t, rpcErr)
	var got Schema
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "order.created.v1", got.Name)

	_, rpcErr = dispatch(t, h, sess.SessionID, "cauce.schemas.get", SchemaGetParams{Name: "missing"}, now)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeNotFound, rpcErr.Code)
}

func TestGoodbyeEndsSessionAndRevokesSubscriptions(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)
	h.Senders.Register(sess.SessionID, &fakeSender{connected: true})

	raw, rpcErr := dispatch(t, h, sess.SessionID, "cauce.subscribe", SubscribeParams{Patterns: []string{"orders.created"}}, now)
	require.Nil(t, rpcErr)
	var sub SubscribeResult
	require.NoError(t, json.Unmarshal(raw, &sub))

	_, rpcErr = dispatch(t, h, sess.SessionID, "cauce.goodbye", nil, now)
	require.Nil(t, rpcErr)

	_, ok := h.Senders.Get(sess.SessionID)
	assert.False(t, ok)

	_, rpcErr = h.Dispatch(context.Background(), sess.SessionID, "cauce.ping", nil, now)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeSessionNotFound, rpcErr.Code)
}

func TestDispatch_SessionExpired(t *testing.T) {
	h := newTestHub(t, nil)
	now := time.Now()
	sess := mustSession(t, h, now)

	later := now.Add(2 * time.Minute)
	_, rpcErr := h.Dispatch(context.Background(), sess.SessionID, "cauce.ping", nil, later)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeSessionExpired, rpcErr.Code)
}
