package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

func newTestSession(id, clientID string, now time.Time, ttl time.Duration) *domain.Session {
	return &domain.Session{
		SessionID:    id,
		ClientID:     clientID,
		ClientType:   domain.ClientAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
	}
}

func TestCreateSession(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.CreateSession(newTestSession("sess_1", "client1", now, time.Minute)))

	got, err := m.GetSession("sess_1", now)
	require.NoError(t, err)
	assert.Equal(t, "client1", got.ClientID)
}

func TestCreateDuplicateSession(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.CreateSession(newTestSession("sess_1", "client1", now, time.Minute)))
	err := m.CreateSession(newTestSession("sess_1", "client2", now, time.Minute))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestGetNonexistentSession(t *testing.T) {
	m := New()
	_, err := m.GetSession("sess_missing", time.Now())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestTouchSession(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.CreateSession(newTestSession("sess_1", "client1", now, time.Second)))

	later := now.Add(500 * time.Millisecond)
	require.NoError(t, m.TouchSession("sess_1", later, time.Minute))

	got, err := m.GetSession("sess_1", later)
	require.NoError(t, err)
	assert.Equal(t, later, got.LastActivity)
	assert.True(t, got.ExpiresAt.After(later))
}

func TestTouchExpiredSession(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.CreateSession(newTestSession("sess_1", "client1", now, time.Millisecond)))

	later := now.Add(time.Second)
	err := m.TouchSession("sess_1", later, time.Minute)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestTouchNonexistentSession(t *testing.T) {
	m := New()
	err := m.TouchSession("sess_missing", time.Now(), time.Minute)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRemoveSession(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.CreateSession(newTestSession("sess_1", "client1", now, time.Minute)))
	require.NoError(t, m.RemoveSession("sess_1"))
	_, err := m.GetSession("sess_1", now)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRemoveNonexistentSession(t *testing.T) {
	m := New()
	err := m.RemoveSession("sess_missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetSessionsForClient(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.CreateSession(newTestSession("sess_1", "client1", now, time.Minute)))
	require.NoError(t, m.CreateSession(newTestSession("sess_2", "client1", now, time.Minute)))
	require.NoError(t, m.CreateSession(newTestSession("sess_3", "client2", now, time.Minute)))

	ids := m.GetSessionsForClient("client1")
	assert.ElementsMatch(t, []string{"sess_1", "sess_2"}, ids)
}

func TestIsValid(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.CreateSession(newTestSession("sess_1", "client1", now, time.Millisecond)))

	assert.True(t, m.IsValid("sess_1", now))
	assert.False(t, m.IsValid("sess_1", now.Add(time.Second)))
	assert.False(t, m.IsValid("sess_missing", now))
}

func TestCleanupExpired(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.CreateSession(newTestSession("sess_1", "client1", now, time.Millisecond)))
	require.NoError(t, m.CreateSession(newTestSession("sess_2", "client1", now, time.Hour)))

	removed := m.CleanupExpired(now.Add(time.Second))
	assert.Equal(t, 1, removed)

	_, err := m.GetSession("sess_2", now)
	assert.NoError(t, err)
}
