package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectForTopic(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		expected string
	}{
		{name: "single segment", topic: "orders", expected: "signals.orders"},
		{name: "multi segment", topic: "orders.created", expected: "signals.orders.created"},
		{name: "deep segment", topic: "tenant-1.orders.created", expected: "signals.tenant-1.orders.created"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, subjectForTopic(tt.topic))
		})
	}
}
