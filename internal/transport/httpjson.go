package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cauce-ai/cauce-hub/internal/jsonrpc"
)

// writeJSON encodes v as the HTTP response body. Transports that speak
// JSON-RPC over HTTP (polling, the SSE ack sibling endpoint) still wrap
// domain errors in jsonrpc.Error so a client sees the same error shape
// regardless of which transport it used.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode transport response", "error", err)
	}
}

func writeRPCError(w http.ResponseWriter, status int, rpcErr *jsonrpc.Error) {
	writeJSON(w, status, rpcErr)
}

// writeRPCErrorFromDomain maps a core error to its JSON-RPC shape and an
// appropriate HTTP status code.
func writeRPCErrorFromDomain(w http.ResponseWriter, err error) {
	rpcErr := jsonrpc.FromDomainError(err)
	status := http.StatusInternalServerError
	switch rpcErr.Code {
	case jsonrpc.CodeSessionNotFound, jsonrpc.CodeNotFound:
		status = http.StatusNotFound
	case jsonrpc.CodeSessionExpired, jsonrpc.CodeAuthFailed:
		status = http.StatusUnauthorized
	case jsonrpc.CodeInvalidParams, jsonrpc.CodeInvalidRequest, jsonrpc.CodeInvalidSubscriptionState:
		status = http.StatusBadRequest
	case jsonrpc.CodeRateLimited:
		status = http.StatusTooManyRequests
	case jsonrpc.CodePayloadTooLarge:
		status = http.StatusRequestEntityTooLarge
	}
	writeRPCError(w, status, rpcErr)
}

func jsonrpcInvalidParams() *jsonrpc.Error {
	return jsonrpc.ErrInvalidParams
}
