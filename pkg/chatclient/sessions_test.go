package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionListSyncMovesToFront(t *testing.T) {
	cache := NewCache()
	q := SessionsQuery{Limit: 10}
	now := time.Now()
	cache.SeedSessions(q, SessionPage{Sessions: []Session{
		{ID: "s1", UpdatedAt: now},
		{ID: "s2", UpdatedAt: now.Add(-time.Hour)},
		{ID: "s3", UpdatedAt: now.Add(-2 * time.Hour)},
	}})
	sync := NewSessionListSync(cache, q)

	ai := Message{ID: "m9", SessionID: "s3", Role: RoleAssistant, Content: "新回答", CreatedAt: now.Add(time.Minute)}
	sync.Apply("s3", ai)

	got := cache.Sessions(q)
	require.Len(t, got, 3)
	assert.Equal(t, "s3", got[0].ID)
	assert.Equal(t, "s1", got[1].ID)
	assert.Equal(t, "s2", got[2].ID)
	require.Len(t, got[0].Preview, 1)
	assert.Equal(t, "新回答", got[0].Preview[0].Content)
	assert.Equal(t, ai.CreatedAt, got[0].UpdatedAt)
}

func TestSessionListSyncAbsentSessionIsNoOp(t *testing.T) {
	cache := NewCache()
	q := SessionsQuery{Limit: 10}
	cache.SeedSessions(q, SessionPage{Sessions: []Session{{ID: "s1"}, {ID: "s2"}}})
	sync := NewSessionListSync(cache, q)

	sync.Apply("elsewhere", Message{ID: "m1", Role: RoleAssistant, Content: "x"})

	got := cache.Sessions(q)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "s2", got[1].ID)
	assert.Empty(t, got[0].Preview)
}

func TestSessionListSyncDoesNotTouchLaterPages(t *testing.T) {
	cache := NewCache()
	q := SessionsQuery{Limit: 2}
	cache.SeedSessions(q, SessionPage{Sessions: []Session{{ID: "s1"}, {ID: "s2"}}})
	cache.AppendSessionPage(q, SessionPage{Sessions: []Session{{ID: "s3"}}})
	sync := NewSessionListSync(cache, q)

	// s3 在第二页：同步器不触碰后续页
	sync.Apply("s3", Message{ID: "m1", Role: RoleAssistant, Content: "x"})

	got := cache.Sessions(q)
	require.Len(t, got, 3)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "s3", got[2].ID)
	assert.Empty(t, got[2].Preview)
}
