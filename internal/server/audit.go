package server

import (
	"context"
	"log/slog"

	"github.com/cauce-ai/cauce-hub/internal/delivery"
	"github.com/cauce-ai/cauce-hub/internal/domain"
	"github.com/cauce-ai/cauce-hub/internal/search"
	"github.com/cauce-ai/cauce-hub/internal/storage"
)

// deadLetterSearchPartition is the single Bleve index partition dead-letter
// records are indexed into. A deployment with a genuine multi-tenant need
// for isolated indices can partition by client/topic later; nothing in
// SPEC_FULL.md calls for that yet.
const deadLetterSearchPartition = "dead-letters"

// clickhouseAuditSink adapts storage.ClickHouseClient to delivery.AuditSink,
// translating the scheduler's event shape to the one ClickHouse's batch
// insert expects. Kept here rather than on the storage type itself so
// internal/storage never needs to import internal/delivery.
type clickhouseAuditSink struct {
	client *storage.ClickHouseClient
}

func (s clickhouseAuditSink) RecordEvents(ctx context.Context, events []delivery.AuditEvent) error {
	out := make([]storage.DeliveryEvent, len(events))
	for i, e := range events {
		out[i] = storage.DeliveryEvent{
			SubscriptionID: e.SubscriptionID,
			SignalID:       e.SignalID,
			Topic:          e.Topic,
			EventType:      e.EventType,
			AttemptCount:   e.AttemptCount,
			OccurredAt:     e.OccurredAt,
		}
	}
	return s.client.RecordEvents(ctx, out)
}

// postgresDeadLetterSink adapts storage.PostgresClient to
// delivery.DeadLetterSink.
type postgresDeadLetterSink struct {
	client *storage.PostgresClient
}

func (s postgresDeadLetterSink) RecordDeadLetter(ctx context.Context, rec domain.DeadLetterRecord) error {
	return s.client.SaveDeadLetter(ctx, rec)
}

// bleveDeadLetterSink indexes a dead-lettered delivery for operator
// full-text search, alongside (not instead of) durable persistence.
type bleveDeadLetterSink struct {
	manager *search.BleveManager
}

func (s bleveDeadLetterSink) RecordDeadLetter(ctx context.Context, rec domain.DeadLetterRecord) error {
	return s.manager.IndexDeadLetters(ctx, deadLetterSearchPartition, []*domain.DeadLetterRecord{&rec})
}

// multiDeadLetterSink fans a dead-letter event out to every configured
// sink, logging (not failing) the others if one write fails — dead-letter
// persistence and search indexing are independent best-effort concerns.
type multiDeadLetterSink struct {
	sinks  []delivery.DeadLetterSink
	logger *slog.Logger
}

func (s multiDeadLetterSink) RecordDeadLetter(ctx context.Context, rec domain.DeadLetterRecord) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.RecordDeadLetter(ctx, rec); err != nil {
			s.logger.Warn("dead-letter sink write failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
