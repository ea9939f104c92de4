package jsonrpc

import (
	"errors"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// FromDomainError maps a core error (from internal/domain or a component
// package wrapping one) onto the JSON-RPC error it should surface to a
// client, per the taxonomy in the external interface contract.
func FromDomainError(err error) *Error {
	switch {
	case errors.Is(err, domain.ErrInvalidTopic),
		errors.Is(err, domain.ErrInvalidTopicPattern),
		errors.Is(err, domain.ErrInvalidSignalID),
		errors.Is(err, domain.ErrInvalidActionID),
		errors.Is(err, domain.ErrInvalidField),
		errors.Is(err, domain.ErrInvalidSubscriptionID),
		errors.Is(err, domain.ErrInvalidSessionID),
		errors.Is(err, domain.ErrInvalidMessageID),
		errors.Is(err, domain.ErrSchemaValidation),
		errors.Is(err, domain.ErrActionsNotSignals),
		errors.Is(err, domain.ErrDeserialization):
		return NewError(CodeInvalidParams, err.Error())
	case errors.Is(err, domain.ErrAuthFailed):
		return NewError(CodeAuthFailed, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return NewError(CodeRateLimited, err.Error())
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return NewError(CodePayloadTooLarge, err.Error())
	case errors.Is(err, domain.ErrLimitExceeded):
		return NewError(CodeTooManySubscriptions, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return NewError(CodeNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidSubscriptionState):
		return NewError(CodeInvalidSubscriptionState, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		return NewError(CodeSessionNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionExpired):
		return NewError(CodeSessionExpired, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return NewError(CodeInvalidRequest, err.Error())
	default:
		return NewError(CodeInternalError, "internal error")
	}
}
