package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/cauce-ai/cauce-hub/internal/domain"
	"github.com/cauce-ai/cauce-hub/internal/hub"
)

const sseKeepAlive = 20 * time.Second

// SSE mounts GET /sse?session=<id>. The stream is server-to-client only; a
// client that already completed cauce.hello over another channel (or an
// out-of-band hello endpoint) passes its session id as a query parameter to
// attach. Acks travel over the sibling /ack endpoint the Polling transport
// also mounts.
type SSE struct {
	hub    *hub.Hub
	logger *slog.Logger
}

func NewSSE(h *hub.Hub, logger *slog.Logger) *SSE {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSE{hub: h, logger: logger.With("component", "sse-transport")}
}

func (t *SSE) Name() string { return "sse" }

func (t *SSE) Mount(r *mux.Router) {
	r.HandleFunc("/sse", t.handleStream).Methods(http.MethodGet)
}

func (t *SSE) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, jsonrpcInvalidParams())
		return
	}
	if _, err := t.hub.Sessions.GetSession(sessionID, time.Now()); err != nil {
		writeRPCErrorFromDomain(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sender := &sseSender{send: make(chan domain.SignalDelivery, 64), connected: 1}
	t.hub.Senders.Register(sessionID, sender)
	defer func() {
		atomic.StoreInt32(&sender.connected, 0)
		t.hub.Senders.Unregister(sessionID)
	}()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case d := <-sender.send:
			data, err := json.Marshal(d)
			if err != nil {
				t.logger.Error("marshal signal delivery", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: signal\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// sseSender satisfies delivery.Sender for one SSE stream.
type sseSender struct {
	send      chan domain.SignalDelivery
	connected int32 // atomic
}

func (s *sseSender) SendSignal(d domain.SignalDelivery) error {
	select {
	case s.send <- d:
		return nil
	default:
		return fmt.Errorf("sse: send buffer full")
	}
}

func (s *sseSender) IsConnected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}
