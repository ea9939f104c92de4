package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseClient wraps a ClickHouse connection pool and provides the
// append-only delivery audit sink: every redelivery attempt and dead-letter
// the scheduler reports is written here for operational analytics
// (QueryStats also counts any "ack" rows a caller records). Nothing in the
// hub reads it back to make a delivery decision — the in-memory tracker
// remains authoritative.
type ClickHouseClient struct {
	conn driver.Conn
}

// NewClickHouseClient creates a new ClickHouse client from the given DSN.
// The DSN format follows the clickhouse-go v2 convention, e.g.
// "clickhouse://localhost:9000/cauce".
func NewClickHouseClient(ctx context.Context, dsn string) (*ClickHouseClient, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	return &ClickHouseClient{conn: conn}, nil
}

// Close releases the underlying connection pool.
func (c *ClickHouseClient) Close() error {
	return c.conn.Close()
}

// Ping verifies connectivity to ClickHouse.
func (c *ClickHouseClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// EnsureSchema creates the delivery_events table if it does not already exist.
func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	return c.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS delivery_events (
			subscription_id String,
			signal_id       String,
			topic           String,
			event_type      LowCardinality(String),
			attempt_count   UInt32,
			occurred_at     DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY (subscription_id, occurred_at)
	`)
}

// RecordEvents inserts a batch of delivery events. All entries are sent
// within a single batch for throughput; this is called from the
// redelivery scheduler's hot path so it must not block on anything slow.
func (c *ClickHouseClient) RecordEvents(ctx context.Context, events []DeliveryEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO delivery_events (subscription_id, signal_id, topic, event_type, attempt_count, occurred_at)
	`)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	for i := range events {
		e := &events[i]
		if err := batch.Append(e.SubscriptionID, e.SignalID, e.Topic, e.EventType, uint32(e.AttemptCount), e.OccurredAt); err != nil {
			return fmt.Errorf("clickhouse: append row %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}

	return nil
}

// DeliveryStats summarizes audited delivery outcomes for one subscription
// over the queried window.
type DeliveryStats struct {
	Attempts     int64
	Acked        int64
	DeadLettered int64
	AvgAttempts  float64
}

// QueryStats aggregates delivery_events for a subscription. It is used by
// operational dashboards, not by the hot delivery path.
func (c *ClickHouseClient) QueryStats(ctx context.Context, subscriptionID string, since time.Time) (*DeliveryStats, error) {
	row := c.conn.QueryRow(ctx, `
		SELECT
			countIf(event_type = 'attempt')          AS attempts,
			countIf(event_type = 'ack')              AS acked,
			countIf(event_type = 'dead_letter')       AS dead_lettered,
			avgIf(attempt_count, event_type = 'ack')  AS avg_attempts
		FROM delivery_events
		WHERE subscription_id = @subscriptionID AND occurred_at >= @since
	`,
		clickhouse.Named("subscriptionID", subscriptionID),
		clickhouse.Named("since", since),
	)

	var stats DeliveryStats
	if err := row.Scan(&stats.Attempts, &stats.Acked, &stats.DeadLettered, &stats.AvgAttempts); err != nil {
		return nil, fmt.Errorf("clickhouse: query stats: %w", err)
	}
	return &stats, nil
}
