package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const errorPrefix = `{"error":`

// HTTPGateway 是 Gateway 的默认实现：REST 调用走 HTTP，
// 流式问答先取一次性握手令牌、再拨 WebSocket。
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	// tokenFn 返回当前访问令牌，每次请求时调用以支持刷新
	tokenFn func() string
}

// NewHTTPGateway 创建指向 baseURL（如 http://127.0.0.1:8080）的网关。
// tokenFn 在每次请求时被调用，返回当前访问令牌。
func NewHTTPGateway(baseURL string, tokenFn func() string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		tokenFn:    tokenFn,
	}
}

// envelope 是服务端统一的响应包装。
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (g *HTTPGateway) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := g.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.tokenFn())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrSessionNotFound
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("请求失败: %s", env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("解析响应数据失败: %w", err)
		}
	}
	return nil
}

func pageQuery(cursor string, limit int) url.Values {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func (g *HTTPGateway) ListSessions(ctx context.Context, cursor string, limit int) (*SessionPage, error) {
	var page SessionPage
	if err := g.doJSON(ctx, http.MethodGet, "/api/v1/chat/sessions", pageQuery(cursor, limit), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (g *HTTPGateway) SearchSessions(ctx context.Context, query, cursor string, limit int) (*SessionPage, error) {
	q := pageQuery(cursor, limit)
	q.Set("query", query)
	var page SessionPage
	if err := g.doJSON(ctx, http.MethodGet, "/api/v1/chat/sessions/search", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (g *HTTPGateway) CreateSession(ctx context.Context, title string) (*Session, error) {
	var session Session
	body := map[string]string{"title": title}
	if err := g.doJSON(ctx, http.MethodPost, "/api/v1/chat/sessions", nil, body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (g *HTTPGateway) ListMessages(ctx context.Context, sessionID, cursor string, limit int) (*MessagePage, error) {
	var page MessagePage
	path := "/api/v1/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := g.doJSON(ctx, http.MethodGet, path, pageQuery(cursor, limit), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (g *HTTPGateway) SendMessage(ctx context.Context, sessionID, content string) (*Exchange, error) {
	var ex Exchange
	path := "/api/v1/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	body := map[string]string{"content": content}
	if err := g.doJSON(ctx, http.MethodPost, path, nil, body, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

func (g *HTTPGateway) DeleteSession(ctx context.Context, sessionID string) error {
	path := "/api/v1/chat/sessions/" + url.PathEscape(sessionID)
	return g.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

// wsHandshake 是换取流式通道凭据的响应。
type wsHandshake struct {
	WSToken  string `json:"wsToken"`
	CmdToken string `json:"cmdToken"`
}

// SendMessageStream 发起一轮流式问答。先换取一次性握手令牌，
// 再拨 WebSocket 发送提问。每个到达的文本帧原样交给 onData，
// 终止帧送达后返回 nil。ctx 取消时先发停止指令再断开。
func (g *HTTPGateway) SendMessageStream(ctx context.Context, sessionID, content string, onData func(data string)) error {
	var hs wsHandshake
	if err := g.doJSON(ctx, http.MethodGet, "/api/v1/chat/websocket-token", nil, nil, &hs); err != nil {
		return err
	}

	conn, _, err := g.dialer.DialContext(ctx, g.streamURL(hs.WSToken), nil)
	if err != nil {
		return fmt.Errorf("建立流式连接失败: %w", err)
	}
	defer conn.Close()

	req := map[string]string{"sessionId": sessionID, "content": content}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}

	// ctx 取消时通知服务端停止生成，随后关闭连接解除读阻塞
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			stop := map[string]string{"type": "stop", "cmdToken": hs.CmdToken}
			_ = conn.WriteJSON(stop)
			conn.Close()
		case <-watchDone:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 终止帧之前连接断开
			return ErrStreamEnded
		}
		data := string(frame)

		if strings.HasPrefix(data, errorPrefix) {
			var payload struct {
				Error string `json:"error"`
			}
			if jsonErr := json.Unmarshal(frame, &payload); jsonErr == nil && payload.Error != "" {
				return fmt.Errorf("流式问答失败: %s", payload.Error)
			}
			return fmt.Errorf("流式问答失败: %s", data)
		}

		onData(data)

		if strings.HasPrefix(data, TerminalPrefix) {
			return nil
		}
	}
}

func (g *HTTPGateway) streamURL(wsToken string) string {
	u := g.baseURL + "/chat/stream/" + url.PathEscape(wsToken)
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// 编译期断言 HTTPGateway 满足 Gateway。
var _ Gateway = (*HTTPGateway)(nil)
