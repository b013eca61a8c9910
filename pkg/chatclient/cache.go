package chatclient

import "sync"

// MessagesQuery 是消息分页查询的稳定标识。
type MessagesQuery struct {
	SessionID string
	Limit     int
}

// SessionsQuery 是会话分页查询的稳定标识。
type SessionsQuery struct {
	Search string // 空串表示普通列表
	Limit  int
}

// Cache 是按查询键寻址的分页结果缓存。
//
// 不变量：只有第一页会被乐观更新和流式更新原地修改；
// 后续页只在向后翻页时追加，从不被实时更新触碰。
// 所有修改都在锁内完成，对读取方原子可见。
type Cache struct {
	mu       sync.Mutex
	messages map[MessagesQuery][]MessagePage
	sessions map[SessionsQuery][]SessionPage
}

// NewCache 创建一个空缓存。
func NewCache() *Cache {
	return &Cache{
		messages: make(map[MessagesQuery][]MessagePage),
		sessions: make(map[SessionsQuery][]SessionPage),
	}
}

// SeedMessages 以首页内容初始化（或重置）一个消息查询。
func (c *Cache) SeedMessages(q MessagesQuery, page MessagePage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[q] = []MessagePage{page}
}

// AppendMessagePage 在查询末尾追加一页（向后翻页）。
func (c *Cache) AppendMessagePage(q MessagesQuery, page MessagePage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[q] = append(c.messages[q], page)
}

// PatchFirstMessagePage 对查询的第一页应用一次修改。
// 查询尚未加载时是空操作。
func (c *Cache) PatchFirstMessagePage(q MessagesQuery, patch func(messages []Message) []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages, ok := c.messages[q]
	if !ok || len(pages) == 0 {
		return
	}
	pages[0].Messages = patch(pages[0].Messages)
	c.messages[q] = pages
}

// Messages 返回查询的全部已加载消息（跨页展平后的副本）。
func (c *Cache) Messages(q MessagesQuery) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, p := range c.messages[q] {
		out = append(out, p.Messages...)
	}
	return out
}

// SeedSessions 以首页内容初始化（或重置）一个会话查询。
func (c *Cache) SeedSessions(q SessionsQuery, page SessionPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[q] = []SessionPage{page}
}

// AppendSessionPage 在查询末尾追加一页（向后翻页）。
func (c *Cache) AppendSessionPage(q SessionsQuery, page SessionPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[q] = append(c.sessions[q], page)
}

// PatchFirstSessionPage 对查询的第一页应用一次修改。
// 查询尚未加载时是空操作。
func (c *Cache) PatchFirstSessionPage(q SessionsQuery, patch func(sessions []Session) []Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages, ok := c.sessions[q]
	if !ok || len(pages) == 0 {
		return
	}
	pages[0].Sessions = patch(pages[0].Sessions)
	c.sessions[q] = pages
}

// Sessions 返回查询的全部已加载会话（跨页展平后的副本）。
func (c *Cache) Sessions(q SessionsQuery) []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Session
	for _, p := range c.sessions[q] {
		out = append(out, p.Sessions...)
	}
	return out
}

// RemoveSessionEverywhere 从所有已加载的会话查询中剔除一个会话
// （会话被删除后调用）。
func (c *Cache) RemoveSessionEverywhere(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for q, pages := range c.sessions {
		for i := range pages {
			filtered := pages[i].Sessions[:0:0]
			for _, s := range pages[i].Sessions {
				if s.ID != sessionID {
					filtered = append(filtered, s)
				}
			}
			pages[i].Sessions = filtered
		}
		c.sessions[q] = pages
	}
}

// DropSessionMessages 丢弃一个会话在所有分页大小下的全部缓存页。
func (c *Cache) DropSessionMessages(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for q := range c.messages {
		if q.SessionID == sessionID {
			delete(c.messages, q)
		}
	}
}

// dedupByID 保序去重：相同 ID 只保留首次出现的条目。
// 临时条目（无权威 ID）按 TempID 去重。
func dedupByID(messages []Message) []Message {
	seen := make(map[string]struct{}, len(messages))
	out := messages[:0:0]
	for _, m := range messages {
		key := m.ID
		if m.Provisional() {
			key = "temp:" + m.TempID
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}
