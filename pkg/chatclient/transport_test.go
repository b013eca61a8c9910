package chatclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-chat-go/pkg/chatclient"
)

func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    status,
		"message": "success",
		"data":    data,
	})
}

func TestGatewayListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/sessions/s1/messages", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		cursor := "m1"
		writeEnvelope(w, http.StatusOK, chatclient.MessagePage{
			Messages:    []chatclient.Message{{ID: "m2", Role: chatclient.RoleAssistant, Content: "回答"}},
			NextCursor:  &cursor,
			HasNextPage: true,
		})
	}))
	defer srv.Close()

	gw := chatclient.NewHTTPGateway(srv.URL, func() string { return "token-1" })
	page, err := gw.ListMessages(context.Background(), "s1", "", 20)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m2", page.Messages[0].ID)
	assert.True(t, page.HasNextPage)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, "m1", *page.NextCursor)
}

func TestGatewayErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/chat/sessions/gone/messages":
			writeEnvelope(w, http.StatusNotFound, nil)
		default:
			writeEnvelope(w, http.StatusUnauthorized, nil)
		}
	}))
	defer srv.Close()

	gw := chatclient.NewHTTPGateway(srv.URL, func() string { return "expired" })

	_, err := gw.ListSessions(context.Background(), "", 10)
	assert.ErrorIs(t, err, chatclient.ErrUnauthorized)

	_, err = gw.ListMessages(context.Background(), "gone", "", 20)
	assert.ErrorIs(t, err, chatclient.ErrSessionNotFound)
}

// streamServer 起一个带握手端点和 WebSocket 端点的假服务端。
func streamServer(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat/websocket-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{"wsToken": "ws-1", "cmdToken": "cmd-1"})
	})
	mux.HandleFunc("/chat/stream/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/stream/ws-1", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		serve(conn)
	})
	return httptest.NewServer(mux)
}

func TestGatewayStreamDeliversFramesUntilTerminal(t *testing.T) {
	terminal := `{"done":true,"userMessage":{"id":"m1"},"aiMessage":{"id":"m2"}}`
	srv := streamServer(t, func(conn *websocket.Conn) {
		var req map[string]string
		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "s1", req["sessionId"])
		assert.Equal(t, "你好", req["content"])
		for _, frame := range []string{"你", "好", terminal} {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		}
	})
	defer srv.Close()

	gw := chatclient.NewHTTPGateway(srv.URL, func() string { return "t" })
	var got []string
	err := gw.SendMessageStream(context.Background(), "s1", "你好", func(data string) {
		got = append(got, data)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"你", "好", terminal}, got)
}

func TestGatewayStreamErrorFrame(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		var req map[string]string
		require.NoError(t, conn.ReadJSON(&req))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"AI服务暂时不可用，请稍后重试"}`)))
	})
	defer srv.Close()

	gw := chatclient.NewHTTPGateway(srv.URL, func() string { return "t" })
	var got []string
	err := gw.SendMessageStream(context.Background(), "s1", "问题", func(data string) {
		got = append(got, data)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI服务暂时不可用")
	assert.Empty(t, got, "错误帧不回调 onData")
}

func TestGatewayStreamPrematureClose(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		var req map[string]string
		require.NoError(t, conn.ReadJSON(&req))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("半截")))
		// 不发终止帧直接断开
	})
	defer srv.Close()

	gw := chatclient.NewHTTPGateway(srv.URL, func() string { return "t" })
	err := gw.SendMessageStream(context.Background(), "s1", "问题", func(string) {})
	assert.ErrorIs(t, err, chatclient.ErrStreamEnded)
}
