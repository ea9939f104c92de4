// Package transport implements the four ways a client can speak Cauce to a
// hub: WebSocket (full duplex), SSE (server push + a sibling ack endpoint),
// HTTP polling (short and long), and webhook (server-initiated outbound
// push). Every transport is a thin framing layer over internal/hub.Hub; none
// of them hold routing, subscription, or delivery-tracking logic of their
// own.
package transport

import "github.com/gorilla/mux"

// Transport mounts its HTTP route(s) onto a shared router. The hub's server
// facade holds an ordered list of enabled Transports and mounts each in
// turn, per the enable flags in config (transports.websocket_enabled, etc).
type Transport interface {
	Mount(r *mux.Router)
	Name() string
}
