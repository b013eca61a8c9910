package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignOutGuardSingleSlot(t *testing.T) {
	var g SignOutGuard

	token, ok := g.Begin()
	require.True(t, ok)
	assert.True(t, g.Active())

	// 进行中时再次 Begin 被拒绝
	_, ok = g.Begin()
	assert.False(t, ok)

	g.Finish(token)
	assert.False(t, g.Active())

	token2, ok := g.Begin()
	require.True(t, ok)
	assert.NotEqual(t, token, token2, "凭据不得复用")
	g.Finish(token2)
}

func TestSignOutGuardStaleFinishIsNoOp(t *testing.T) {
	var g SignOutGuard

	stale, ok := g.Begin()
	require.True(t, ok)
	g.Finish(stale)

	current, ok := g.Begin()
	require.True(t, ok)

	// 过期凭据不能释放当前这次退出
	g.Finish(stale)
	assert.True(t, g.Active())

	g.Finish(current)
	assert.False(t, g.Active())
}
