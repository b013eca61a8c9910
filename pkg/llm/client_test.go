package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-chat-go/internal/config"
	"career-chat-go/internal/model"
)

func geminiBody(text string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return string(b)
}

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:         baseURL,
		APIKey:          "test-key",
		Model:           "gemini-2.0-flash",
		MaxContextChars: 50000,
	}
}

func TestGenerateReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		require.Len(t, req.Contents, 2)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Equal(t, "model", req.Contents[1].Role)

		fmt.Fprint(w, geminiBody("你可以先梳理自己的优势。"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	reply, err := client.GenerateReply(context.Background(), []model.ChatMessage{
		{Role: model.RoleUser, Content: "我该怎么准备转行"},
		{Role: model.RoleAssistant, Content: "先说说你的背景"},
	})
	require.NoError(t, err)
	assert.Equal(t, "你可以先梳理自己的优势。", reply)
}

func TestGenerateReplyFallbackOnEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	reply, err := client.GenerateReply(context.Background(), []model.ChatMessage{
		{Role: model.RoleUser, Content: "你好"},
	})
	require.NoError(t, err)
	assert.Equal(t, fallbackReply, reply)
}

func TestGenerateReplyNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.GenerateReply(context.Background(), []model.ChatMessage{
		{Role: model.RoleUser, Content: "你好"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-200")
}

// chunkRecorder 收集写入 writer 的分块。
type chunkRecorder struct {
	chunks []string
}

func (r *chunkRecorder) WriteMessage(messageType int, data []byte) error {
	r.chunks = append(r.chunks, string(data))
	return nil
}

func TestStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", geminiBody("职业规划"))
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprintf(w, "data: %s\n\n", geminiBody("可以分三步"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	rec := &chunkRecorder{}
	err := client.StreamChat(context.Background(), []model.ChatMessage{
		{Role: model.RoleUser, Content: "帮我做职业规划"},
	}, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"职业规划", "可以分三步"}, rec.chunks)
}

func TestBuildContentsRespectsBudget(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.MaxContextChars = 10
	client := NewClient(cfg).(*geminiClient)

	contents := client.buildContents([]model.ChatMessage{
		{Role: model.RoleUser, Content: "这是很久以前的一条超出预算的消息"},
		{Role: model.RoleAssistant, Content: "旧回复"},
		{Role: model.RoleUser, Content: "新问题"},
	})

	// 预算从最新向前累计，放不下的旧消息被整条丢弃
	require.Len(t, contents, 1)
	assert.Equal(t, "新问题", contents[0].Parts[0].Text)
}
