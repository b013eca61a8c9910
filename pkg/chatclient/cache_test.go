package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, content string) Message {
	return Message{ID: id, SessionID: "s1", Role: RoleUser, Content: content}
}

func TestPatchOnlyTouchesFirstPage(t *testing.T) {
	cache := NewCache()
	q := MessagesQuery{SessionID: "s1", Limit: 2}
	cache.SeedMessages(q, MessagePage{Messages: []Message{msg("m4", "d"), msg("m3", "c")}})
	cache.AppendMessagePage(q, MessagePage{Messages: []Message{msg("m2", "b"), msg("m1", "a")}})

	cache.PatchFirstMessagePage(q, func(messages []Message) []Message {
		return append([]Message{msg("m5", "e")}, messages...)
	})

	got := cache.Messages(q)
	require.Len(t, got, 5)
	assert.Equal(t, "m5", got[0].ID)
	// 后续页原封不动
	assert.Equal(t, "m2", got[3].ID)
	assert.Equal(t, "m1", got[4].ID)
}

func TestPatchUnloadedQueryIsNoOp(t *testing.T) {
	cache := NewCache()
	q := MessagesQuery{SessionID: "absent", Limit: 20}
	called := false
	cache.PatchFirstMessagePage(q, func(messages []Message) []Message {
		called = true
		return messages
	})
	assert.False(t, called)
	assert.Empty(t, cache.Messages(q))
}

func TestSeedResetsLoadedPages(t *testing.T) {
	cache := NewCache()
	q := MessagesQuery{SessionID: "s1", Limit: 2}
	cache.SeedMessages(q, MessagePage{Messages: []Message{msg("m2", "b")}})
	cache.AppendMessagePage(q, MessagePage{Messages: []Message{msg("m1", "a")}})

	cache.SeedMessages(q, MessagePage{Messages: []Message{msg("m3", "c")}})

	got := cache.Messages(q)
	require.Len(t, got, 1)
	assert.Equal(t, "m3", got[0].ID)
}

func TestRemoveSessionEverywhere(t *testing.T) {
	cache := NewCache()
	list := SessionsQuery{Limit: 10}
	search := SessionsQuery{Search: "面试", Limit: 10}
	cache.SeedSessions(list, SessionPage{Sessions: []Session{{ID: "s1"}, {ID: "s2"}}})
	cache.AppendSessionPage(list, SessionPage{Sessions: []Session{{ID: "s3"}, {ID: "s2"}}})
	cache.SeedSessions(search, SessionPage{Sessions: []Session{{ID: "s2"}}})

	cache.RemoveSessionEverywhere("s2")

	got := cache.Sessions(list)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "s3", got[1].ID)
	assert.Empty(t, cache.Sessions(search))
}

func TestDropSessionMessages(t *testing.T) {
	cache := NewCache()
	q20 := MessagesQuery{SessionID: "s1", Limit: 20}
	q50 := MessagesQuery{SessionID: "s1", Limit: 50}
	other := MessagesQuery{SessionID: "s2", Limit: 20}
	cache.SeedMessages(q20, MessagePage{Messages: []Message{msg("m1", "a")}})
	cache.SeedMessages(q50, MessagePage{Messages: []Message{msg("m1", "a")}})
	cache.SeedMessages(other, MessagePage{Messages: []Message{msg("m9", "z")}})

	cache.DropSessionMessages("s1")

	assert.Empty(t, cache.Messages(q20))
	assert.Empty(t, cache.Messages(q50))
	assert.Len(t, cache.Messages(other), 1, "其他会话不受影响")
}

func TestDedupByID(t *testing.T) {
	provisional := Message{Role: RoleUser, Content: "x", Provenance: ProvenanceProvisionalUser, TempID: "t1"}
	in := []Message{
		msg("m2", "回答"),
		msg("m1", "问题"),
		provisional,
		msg("m2", "旧副本"),
		provisional,
	}
	out := dedupByID(in)
	require.Len(t, out, 3)
	assert.Equal(t, "m2", out[0].ID)
	assert.Equal(t, "回答", out[0].Content, "保留首次出现的条目")
	assert.Equal(t, "m1", out[1].ID)
	assert.Equal(t, "t1", out[2].TempID)
}
