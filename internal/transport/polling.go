package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cauce-ai/cauce-hub/internal/domain"
	"github.com/cauce-ai/cauce-hub/internal/hub"
)

// pollBatchCap bounds how many pending deliveries a single poll response
// returns, regardless of how many are actually pending.
const pollBatchCap = 100

// pollInterval is how often a long-poll handler re-checks for new pending
// deliveries while waiting.
const pollInterval = 250 * time.Millisecond

// Polling mounts POST /poll, POST /long-poll, and POST /ack. Short polling
// answers immediately with whatever is pending; long polling blocks up to
// the configured timeout for at least one delivery to appear.
type Polling struct {
	hub             *hub.Hub
	sessionTTL      time.Duration
	longPollTimeout time.Duration
	logger          *slog.Logger
}

func NewPolling(h *hub.Hub, sessionTTL, longPollTimeout time.Duration, logger *slog.Logger) *Polling {
	if logger == nil {
		logger = slog.Default()
	}
	if longPollTimeout <= 0 {
		longPollTimeout = 30 * time.Second
	}
	return &Polling{hub: h, sessionTTL: sessionTTL, longPollTimeout: longPollTimeout, logger: logger.With("component", "polling-transport")}
}

func (t *Polling) Name() string { return "polling" }

func (t *Polling) Mount(r *mux.Router) {
	r.HandleFunc("/poll", t.handlePoll).Methods(http.MethodPost)
	r.HandleFunc("/long-poll", t.handleLongPoll).Methods(http.MethodPost)
	r.HandleFunc("/ack", t.handleAck).Methods(http.MethodPost)
}

type pollRequest struct {
	Session string `json:"session"`
	Since   string `json:"since,omitempty"`
}

type pollResponse struct {
	Deliveries []domain.SignalDelivery `json:"deliveries"`
}

func (t *Polling) handlePoll(w http.ResponseWriter, r *http.Request) {
	req, ok := t.decodePollRequest(w, r)
	if !ok {
		return
	}
	deliveries, ok := t.loadPending(w, req.Session)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pollResponse{Deliveries: deliveries})
}

func (t *Polling) handleLongPoll(w http.ResponseWriter, r *http.Request) {
	req, ok := t.decodePollRequest(w, r)
	if !ok {
		return
	}

	deadline := time.Now().Add(t.longPollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		deliveries, ok := t.loadPending(w, req.Session)
		if !ok {
			return
		}
		if len(deliveries) > 0 || time.Now().After(deadline) {
			writeJSON(w, http.StatusOK, pollResponse{Deliveries: deliveries})
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Polling) decodePollRequest(w http.ResponseWriter, r *http.Request) (pollRequest, bool) {
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Session == "" {
		writeRPCError(w, http.StatusBadRequest, jsonrpcInvalidParams())
		return req, false
	}
	return req, true
}

// loadPending touches the session, collects every pending delivery across
// the active subscriptions of the session's client, and caps the batch. A not-found or
// expired session is written directly to the response and reported via ok=false.
func (t *Polling) loadPending(w http.ResponseWriter, sessionID string) ([]domain.SignalDelivery, bool) {
	now := time.Now()
	if err := t.hub.Sessions.TouchSession(sessionID, now, t.sessionTTL); err != nil {
		writeRPCErrorFromDomain(w, err)
		return nil, false
	}
	sess, err := t.hub.Sessions.GetSession(sessionID, now)
	if err != nil {
		writeRPCErrorFromDomain(w, err)
		return nil, false
	}

	subs := t.hub.Subs.GetSubscriptionsForClient(sess.ClientID)
	var out []domain.SignalDelivery
	for _, sub := range subs {
		if sub.Status != domain.SubscriptionActive {
			continue
		}
		out = append(out, t.hub.Tracker.GetUnacked(sub.SubscriptionID)...)
		if len(out) >= pollBatchCap {
			out = out[:pollBatchCap]
			break
		}
	}
	return out, true
}

type ackRequest struct {
	Session        string   `json:"session"`
	SubscriptionID string   `json:"subscription_id"`
	SignalIDs      []string `json:"signal_ids"`
}

func (t *Polling) handleAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Session == "" || req.SubscriptionID == "" {
		writeRPCError(w, http.StatusBadRequest, jsonrpcInvalidParams())
		return
	}

	now := time.Now()
	if _, err := t.hub.Sessions.GetSession(req.Session, now); err != nil {
		writeRPCErrorFromDomain(w, err)
		return
	}

	result := t.hub.Tracker.Ack(req.SubscriptionID, req.SignalIDs)
	writeJSON(w, http.StatusOK, result)
}
