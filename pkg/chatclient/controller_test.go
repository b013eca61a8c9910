package chatclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-chat-go/pkg/chatclient"
)

const testSessionID = "session-1"

// fakeGateway 按脚本回放流式帧，记录调用次数。
type fakeGateway struct {
	mu          sync.Mutex
	frames      []string
	streamErr   error
	sendResult  *chatclient.Exchange
	sendErr     error
	streamCalls int
	sendCalls   int
	// release 非空时，流式调用在回放完帧后阻塞等待它关闭
	release chan struct{}
	// started 非空时，流式调用回放完帧后先关闭它
	started chan struct{}
}

func (f *fakeGateway) ListSessions(ctx context.Context, cursor string, limit int) (*chatclient.SessionPage, error) {
	return &chatclient.SessionPage{}, nil
}

func (f *fakeGateway) SearchSessions(ctx context.Context, query, cursor string, limit int) (*chatclient.SessionPage, error) {
	return &chatclient.SessionPage{}, nil
}

func (f *fakeGateway) CreateSession(ctx context.Context, title string) (*chatclient.Session, error) {
	return &chatclient.Session{ID: testSessionID, Title: title}, nil
}

func (f *fakeGateway) ListMessages(ctx context.Context, sessionID, cursor string, limit int) (*chatclient.MessagePage, error) {
	return &chatclient.MessagePage{}, nil
}

func (f *fakeGateway) SendMessage(ctx context.Context, sessionID, content string) (*chatclient.Exchange, error) {
	f.mu.Lock()
	f.sendCalls++
	f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResult, nil
}

func (f *fakeGateway) SendMessageStream(ctx context.Context, sessionID, content string, onData func(string)) error {
	f.mu.Lock()
	f.streamCalls++
	frames := f.frames
	f.mu.Unlock()
	for _, frame := range frames {
		onData(frame)
	}
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		<-f.release
	}
	return f.streamErr
}

func (f *fakeGateway) DeleteSession(ctx context.Context, sessionID string) error {
	return nil
}

func confirmed(id, role, content string) chatclient.Message {
	return chatclient.Message{
		ID:        id,
		SessionID: testSessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// terminalFrame 构造终止帧。字段顺序保证 {"done":true 前缀。
func terminalFrame(t *testing.T, user, ai chatclient.Message) string {
	t.Helper()
	payload := struct {
		Done        bool               `json:"done"`
		UserMessage chatclient.Message `json:"userMessage"`
		AIMessage   chatclient.Message `json:"aiMessage"`
	}{Done: true, UserMessage: user, AIMessage: ai}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(b)
}

func newTestController(gw chatclient.Gateway) (*chatclient.Controller, *chatclient.Cache) {
	cache := chatclient.NewCache()
	ctrl := chatclient.NewController(gw, cache, nil, testSessionID, 20, chatclient.ModeStream)
	cache.SeedMessages(ctrl.Query(), chatclient.MessagePage{})
	return ctrl, cache
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	gw := &fakeGateway{}
	ctrl, cache := newTestController(gw)

	err := ctrl.Submit(context.Background(), "   \n\t ")
	assert.ErrorIs(t, err, chatclient.ErrEmptyMessage)
	assert.Empty(t, cache.Messages(ctrl.Query()), "校验失败不应改动缓存")
	assert.Equal(t, 0, gw.streamCalls, "校验失败不应发起网络调用")
}

func TestStreamingExchangeReconciliation(t *testing.T) {
	user := confirmed("m1", chatclient.RoleUser, "我适合转行做数据分析吗")
	ai := confirmed("m2", chatclient.RoleAssistant, "可以从这几个方面评估")
	gw := &fakeGateway{frames: []string{"可以从", "这几个方面", "评估", terminalFrame(t, user, ai)}}
	ctrl, cache := newTestController(gw)

	err := ctrl.Submit(context.Background(), "我适合转行做数据分析吗")
	require.NoError(t, err)

	got := cache.Messages(ctrl.Query())
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
	assert.False(t, got[0].Provisional())
	assert.False(t, got[1].Provisional())
	assert.Equal(t, chatclient.StatusIdle, ctrl.Status())
	assert.Empty(t, ctrl.FailedText())
}

func TestStreamingTokensAccumulateInOrder(t *testing.T) {
	// 不给终止帧：在流仍然打开时观察临时条目的内容
	gw := &fakeGateway{
		frames:    []string{"第一", "第二", "第三"},
		streamErr: errors.New("observe done"),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	started := gw.started
	ctrl, cache := newTestController(gw)

	done := make(chan error, 1)
	go func() { done <- ctrl.Submit(context.Background(), "问题") }()
	<-started
	snapshot := cache.Messages(ctrl.Query())
	close(gw.release)
	<-done

	require.Len(t, snapshot, 2)
	assert.Equal(t, chatclient.ProvenanceProvisionalAssistant, snapshot[0].Provenance)
	assert.Equal(t, "第一第二第三", snapshot[0].Content, "分块必须按到达顺序单调追加")
	assert.Equal(t, chatclient.ProvenanceProvisionalUser, snapshot[1].Provenance)
}

func TestStreamFailureKeepsFailedTextAndUserEntry(t *testing.T) {
	gw := &fakeGateway{frames: []string{"开头"}, streamErr: errors.New("connection reset")}
	ctrl, cache := newTestController(gw)

	err := ctrl.Submit(context.Background(), "帮我改简历")
	require.Error(t, err)

	got := cache.Messages(ctrl.Query())
	require.Len(t, got, 1, "失败时丢弃流式助手条目")
	assert.Equal(t, chatclient.ProvenanceProvisionalUser, got[0].Provenance)
	assert.Equal(t, "帮我改简历", got[0].Content)
	assert.Equal(t, chatclient.StatusFailed, ctrl.Status())
	assert.Equal(t, "帮我改简历", ctrl.FailedText())
}

func TestSilentStreamEndIsFailure(t *testing.T) {
	gw := &fakeGateway{frames: []string{"只有分块没有终止帧"}}
	ctrl, _ := newTestController(gw)

	err := ctrl.Submit(context.Background(), "问题")
	assert.ErrorIs(t, err, chatclient.ErrStreamEnded)
	assert.Equal(t, chatclient.StatusFailed, ctrl.Status())
}

func TestRetryReusesProvisionalUserEntry(t *testing.T) {
	gw := &fakeGateway{streamErr: errors.New("timeout")}
	ctrl, cache := newTestController(gw)

	require.Error(t, ctrl.Submit(context.Background(), "职业规划建议"))
	require.Len(t, cache.Messages(ctrl.Query()), 1)

	// 重试成功：不产生第二条临时用户条目
	user := confirmed("m1", chatclient.RoleUser, "职业规划建议")
	ai := confirmed("m2", chatclient.RoleAssistant, "建议如下")
	gw.streamErr = nil
	gw.frames = []string{"建议如下", terminalFrame(t, user, ai)}

	require.NoError(t, ctrl.Retry(context.Background()))

	got := cache.Messages(ctrl.Query())
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
	assert.Empty(t, ctrl.FailedText())
	assert.Equal(t, 2, gw.streamCalls)
}

func TestRetryWithoutFailure(t *testing.T) {
	ctrl, _ := newTestController(&fakeGateway{})
	assert.ErrorIs(t, ctrl.Retry(context.Background()), chatclient.ErrNothingToRetry)
}

func TestConcurrentSubmitIsNoOp(t *testing.T) {
	gw := &fakeGateway{
		frames:  []string{"第一块"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	gw.streamErr = errors.New("ended")
	started := gw.started
	ctrl, cache := newTestController(gw)

	done := make(chan error, 1)
	go func() { done <- ctrl.Submit(context.Background(), "第一条") }()
	<-started

	err := ctrl.Submit(context.Background(), "第二条")
	assert.ErrorIs(t, err, chatclient.ErrExchangeInFlight)

	got := cache.Messages(ctrl.Query())
	require.Len(t, got, 2, "被拒绝的提交不应插入临时条目")
	for _, m := range got {
		assert.NotEqual(t, "第二条", m.Content)
	}
	assert.Equal(t, 1, gw.streamCalls, "被拒绝的提交不应发起网络调用")

	close(gw.release)
	<-done
}

func TestTerminalDeduplicatesById(t *testing.T) {
	user := confirmed("m1", chatclient.RoleUser, "问题")
	ai := confirmed("m2", chatclient.RoleAssistant, "回答")
	gw := &fakeGateway{frames: []string{terminalFrame(t, user, ai)}}
	ctrl, cache := newTestController(gw)
	// 首页已经含有同 ID 的权威记录（例如刷新刚好跑在终止帧前）
	cache.SeedMessages(ctrl.Query(), chatclient.MessagePage{Messages: []chatclient.Message{ai, user}})

	require.NoError(t, ctrl.Submit(context.Background(), "问题"))

	got := cache.Messages(ctrl.Query())
	require.Len(t, got, 2, "同 ID 条目不得重复出现")
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
}

func TestOneShotExchange(t *testing.T) {
	user := confirmed("m1", chatclient.RoleUser, "问题")
	ai := confirmed("m2", chatclient.RoleAssistant, "回答")
	gw := &fakeGateway{sendResult: &chatclient.Exchange{UserMessage: user, AIMessage: ai}}
	cache := chatclient.NewCache()
	ctrl := chatclient.NewController(gw, cache, nil, testSessionID, 20, chatclient.ModeOneShot)
	cache.SeedMessages(ctrl.Query(), chatclient.MessagePage{})

	require.NoError(t, ctrl.Submit(context.Background(), "问题"))

	got := cache.Messages(ctrl.Query())
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, 1, gw.sendCalls)
	assert.Equal(t, chatclient.StatusIdle, ctrl.Status())
}

func TestSubmitAfterClose(t *testing.T) {
	ctrl, _ := newTestController(&fakeGateway{})
	ctrl.Close()
	assert.ErrorIs(t, ctrl.Submit(context.Background(), "问题"), chatclient.ErrClosed)
}

func TestDeleteSessionEvictsCaches(t *testing.T) {
	gw := &fakeGateway{}
	cache := chatclient.NewCache()
	list := chatclient.SessionsQuery{Limit: 10}
	cache.SeedSessions(list, chatclient.SessionPage{Sessions: []chatclient.Session{{ID: "s1"}, {ID: "s2"}}})
	q := chatclient.MessagesQuery{SessionID: "s1", Limit: 20}
	cache.SeedMessages(q, chatclient.MessagePage{Messages: []chatclient.Message{confirmed("m1", chatclient.RoleUser, "问题")}})

	require.NoError(t, chatclient.DeleteSession(context.Background(), gw, cache, "s1"))

	sessions := cache.Sessions(list)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Empty(t, cache.Messages(q))
}

func TestSessionListMoveToFrontOnCompletion(t *testing.T) {
	cache := chatclient.NewCache()
	listQuery := chatclient.SessionsQuery{Limit: 10}
	now := time.Now()
	cache.SeedSessions(listQuery, chatclient.SessionPage{Sessions: []chatclient.Session{
		{ID: "s1", Title: "面试准备", UpdatedAt: now},
		{ID: "s2", Title: "简历修改", UpdatedAt: now.Add(-time.Hour)},
		{ID: "s3", Title: "职业测评", UpdatedAt: now.Add(-2 * time.Hour)},
	}})
	sync := chatclient.NewSessionListSync(cache, listQuery)

	user := confirmed("m1", chatclient.RoleUser, "问题")
	ai := confirmed("m2", chatclient.RoleAssistant, "回答")
	gw := &fakeGateway{frames: []string{terminalFrame(t, user, ai)}}
	ctrl := chatclient.NewController(gw, cache, sync, "s2", 20, chatclient.ModeStream)
	cache.SeedMessages(ctrl.Query(), chatclient.MessagePage{})

	require.NoError(t, ctrl.Submit(context.Background(), "问题"))

	sessions := cache.Sessions(listQuery)
	require.Len(t, sessions, 3)
	assert.Equal(t, []string{"s2", "s1", "s3"}, []string{sessions[0].ID, sessions[1].ID, sessions[2].ID})
	require.Len(t, sessions[0].Preview, 1)
	assert.Equal(t, "回答", sessions[0].Preview[0].Content)
	assert.Equal(t, ai.CreatedAt.Unix(), sessions[0].UpdatedAt.Unix())
}
