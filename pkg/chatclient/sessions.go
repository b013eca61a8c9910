package chatclient

import "context"

// DeleteSession 删除远端会话并清理本地缓存中它的所有痕迹：
// 从每个已加载的会话列表里剔除，丢弃它的消息缓存页。
func DeleteSession(ctx context.Context, gw Gateway, cache *Cache, sessionID string) error {
	if err := gw.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	cache.RemoveSessionEverywhere(sessionID)
	cache.DropSessionMessages(sessionID)
	return nil
}

// SessionListSync 在一次交换成功后把对应会话顶到列表首页第一位，
// 并刷新它的预览和更新时间。会话不在首页时不做任何事（下次全量
// 拉取自然会带上正确顺序），后续页永远不被触碰。
type SessionListSync struct {
	cache *Cache
	query SessionsQuery
}

// NewSessionListSync 创建针对一个会话列表查询的同步器。
func NewSessionListSync(cache *Cache, query SessionsQuery) *SessionListSync {
	return &SessionListSync{cache: cache, query: query}
}

// Query 返回该同步器绑定的会话列表查询键。
func (s *SessionListSync) Query() SessionsQuery {
	return s.query
}

// Apply 把 sessionID 对应的会话移到首页头部，预览替换为 aiMessage。
// 相对顺序除被移动的会话外保持不变。
func (s *SessionListSync) Apply(sessionID string, aiMessage Message) {
	s.cache.PatchFirstSessionPage(s.query, func(sessions []Session) []Session {
		idx := -1
		for i := range sessions {
			if sessions[i].ID == sessionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return sessions
		}
		moved := sessions[idx]
		moved.UpdatedAt = aiMessage.CreatedAt
		moved.Preview = []Message{aiMessage}
		reordered := make([]Session, 0, len(sessions))
		reordered = append(reordered, moved)
		reordered = append(reordered, sessions[:idx]...)
		reordered = append(reordered, sessions[idx+1:]...)
		return reordered
	})
}
