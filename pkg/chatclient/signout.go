package chatclient

import "sync"

// SignOutGuard 保证同一时刻至多一次退出登录在进行。
// Begin 抢占唯一的槽位并返回凭据，Finish 用凭据释放槽位，
// 过期凭据的 Finish 是空操作。
type SignOutGuard struct {
	mu      sync.Mutex
	current uint64
	active  bool
}

// Begin 尝试开始一次退出。已有退出进行中时返回 (0, false)。
func (g *SignOutGuard) Begin() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return 0, false
	}
	g.current++
	g.active = true
	return g.current, true
}

// Finish 结束 token 对应的那次退出。token 不是当前这次时不做任何事。
func (g *SignOutGuard) Finish(token uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active && token == g.current {
		g.active = false
	}
}

// Active 报告是否有退出进行中。
func (g *SignOutGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
