package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// IsNotFound returns true if the error indicates a record was not found.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if err == pgx.ErrNoRows {
		return true
	}
	return strings.Contains(err.Error(), "not found")
}

// PostgresClient wraps a pgx connection pool and provides the durable
// write-behind for sessions: an optional persistence layer so that a hub
// restart does not silently drop every live connection's session record.
// The in-memory session manager remains authoritative for the hot read
// path; this client is consulted only on startup (to repopulate), when a
// session is created (saved) and when it ends with cauce.goodbye (deleted).
// Session touches are not written back, so a stored record keeps the expiry
// it was saved with.
type PostgresClient struct {
	pool *pgxpool.Pool
}

// NewPostgresClient creates a new PostgreSQL client from the given DSN.
func NewPostgresClient(ctx context.Context, dsn string) (*PostgresClient, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

// Close releases all connections in the pool.
func (p *PostgresClient) Close() {
	p.pool.Close()
}

// Ping verifies connectivity to PostgreSQL.
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// EnsureSchema creates the sessions and dead-letter tables if they do not
// already exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cauce_sessions (
			session_id       TEXT PRIMARY KEY,
			client_id        TEXT NOT NULL,
			client_type      TEXT NOT NULL,
			protocol_version TEXT NOT NULL,
			transport        TEXT NOT NULL,
			auth_metadata    JSONB,
			created_at       TIMESTAMPTZ NOT NULL,
			last_activity    TIMESTAMPTZ NOT NULL,
			expires_at       TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cauce_dead_letters (
			subscription_id TEXT NOT NULL,
			signal_id       TEXT NOT NULL,
			topic           TEXT NOT NULL,
			reason          TEXT NOT NULL,
			attempt_count   INT NOT NULL,
			first_attempt   TIMESTAMPTZ NOT NULL,
			last_attempt    TIMESTAMPTZ NOT NULL,
			dead_lettered_at TIMESTAMPTZ NOT NULL,
			payload         JSONB,
			PRIMARY KEY (subscription_id, signal_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres: ensure dead-letter schema: %w", err)
	}
	return nil
}

// SaveDeadLetter persists a dead-lettered delivery so it survives past the
// in-memory tracker's own retention. It satisfies delivery.DeadLetterSink.
func (p *PostgresClient) SaveDeadLetter(ctx context.Context, rec domain.DeadLetterRecord) error {
	payloadJSON, err := json.Marshal(rec.Delivery.Signal.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal dead letter payload: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO cauce_dead_letters
			(subscription_id, signal_id, topic, reason, attempt_count, first_attempt, last_attempt, dead_lettered_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subscription_id, signal_id) DO UPDATE SET
			attempt_count = EXCLUDED.attempt_count,
			last_attempt = EXCLUDED.last_attempt,
			dead_lettered_at = EXCLUDED.dead_lettered_at
	`, rec.SubscriptionID, rec.Delivery.Signal.ID, rec.Delivery.Signal.Topic, string(rec.Reason),
		rec.AttemptCount, rec.FirstAttempt, rec.LastAttempt, rec.DeadLetteredAt, payloadJSON)
	if err != nil {
		return fmt.Errorf("postgres: save dead letter %q/%q: %w", rec.SubscriptionID, rec.Delivery.Signal.ID, err)
	}
	return nil
}

// SaveSession upserts a session record.
func (p *PostgresClient) SaveSession(ctx context.Context, s *domain.Session) error {
	var authJSON []byte
	if s.Auth != nil {
		var err error
		authJSON, err = json.Marshal(s.Auth)
		if err != nil {
			return fmt.Errorf("postgres: marshal auth info: %w", err)
		}
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO cauce_sessions (session_id, client_id, client_type, protocol_version, transport, auth_metadata, created_at, last_activity, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			last_activity = EXCLUDED.last_activity,
			expires_at = EXCLUDED.expires_at
	`, s.SessionID, s.ClientID, string(s.ClientType), s.ProtocolVersion, s.Transport, authJSON, s.CreatedAt, s.LastActivity, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres: save session %q: %w", s.SessionID, err)
	}
	return nil
}

// LoadSession fetches one session record.
func (p *PostgresClient) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT session_id, client_id, client_type, protocol_version, transport, created_at, last_activity, expires_at
		FROM cauce_sessions WHERE session_id = $1
	`, sessionID)

	var s domain.Session
	var clientType string
	if err := row.Scan(&s.SessionID, &s.ClientID, &clientType, &s.ProtocolVersion, &s.Transport, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("postgres: session %q: %w", sessionID, domain.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("postgres: load session %q: %w", sessionID, err)
	}
	s.ClientType = domain.ClientType(clientType)
	return &s, nil
}

// DeleteSession removes a session record.
func (p *PostgresClient) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM cauce_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("postgres: delete session %q: %w", sessionID, err)
	}
	return nil
}

// LoadAllSessions repopulates the in-memory session manager on startup.
func (p *PostgresClient) LoadAllSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, client_id, client_type, protocol_version, transport, created_at, last_activity, expires_at
		FROM cauce_sessions WHERE expires_at > now()
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load all sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		var s domain.Session
		var clientType string
		if err := rows.Scan(&s.SessionID, &s.ClientID, &clientType, &s.ProtocolVersion, &s.Transport, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		s.ClientType = domain.ClientType(clientType)
		out = append(out, &s)
	}
	return out, rows.Err()
}

var _ = time.Now // retained: timestamps above are driven by caller-supplied times, not wall-clock here
