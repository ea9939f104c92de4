package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	TopicMinLength = 1
	TopicMaxLength = 255
)

// NewSubscriptionID returns a fresh sub_<uuid> identifier.
func NewSubscriptionID() string {
	return "sub_" + uuid.NewString()
}

// NewSessionID returns a fresh sess_<uuid> identifier.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// NewMessageID returns a fresh msg_<uuid> identifier.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

func isTopicChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// ValidateTopic validates a concrete (non-pattern) topic string: non-empty,
// at most 255 characters, dot-separated segments of [A-Za-z0-9_-], no
// leading, trailing, or consecutive dots.
func ValidateTopic(topic string) error {
	if len(topic) < TopicMinLength || len(topic) > TopicMaxLength {
		return ErrInvalidTopic
	}
	if strings.HasPrefix(topic, ".") || strings.HasSuffix(topic, ".") || strings.Contains(topic, "..") {
		return ErrInvalidTopic
	}
	for _, segment := range strings.Split(topic, ".") {
		if segment == "" {
			return ErrInvalidTopic
		}
		for _, r := range segment {
			if !isTopicChar(r) {
				return ErrInvalidTopic
			}
		}
	}
	return nil
}
