// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"career-chat-go/internal/config"
	"career-chat-go/internal/model"

	"github.com/gorilla/websocket"
)

// DefaultSystemPrompt 是内置的职业咨询系统提示词，可由配置覆盖。
const DefaultSystemPrompt = `You are an empathetic career counselor and coach.

- Ask clarifying questions about the user's background (education, skills, experience, interests, goals).
- Suggest multiple career paths aligned with their strengths, with clear next steps (skills, certifications, projects, experiences).
- Give practical job search support: resume/CV tips, portfolio, interview prep, networking.
- Share realistic insights: industry trends, demand, salaries, challenges, trade-offs.
- Communicate in a friendly, motivating, and clear tone; use bullets or step-by-step guidance.

If the user asks non-career questions, politely decline and redirect back to careers.
Always ask for missing info before giving broad advice.`

// fallbackReply 在模型返回空文本时兜底。
const fallbackReply = "I'm here to help. Could you share a bit more about your goals or current situation?"

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// GenerateReply 一次性生成完整回复。
	GenerateReply(ctx context.Context, messages []model.ChatMessage) (string, error)
	// StreamChat 以流式方式生成回复，并将每个文本分块写入 writer。
	StreamChat(ctx context.Context, messages []model.ChatMessage, writer MessageWriter) error
}

type geminiClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client for the configured Gemini endpoint.
func NewClient(cfg config.LLMConfig) Client {
	return &geminiClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// Gemini 接口的请求/响应结构。
type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// buildContents 将角色消息映射为 Gemini contents，并按字符预算从最新向前截断。
// USER 映射为 user，ASSISTANT 映射为 model。
func (c *geminiClient) buildContents(messages []model.ChatMessage) []geminiContent {
	budget := c.cfg.MaxContextChars
	var reversed []geminiContent
	accumulated := 0
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		accumulated += len(m.Content)
		if budget > 0 && accumulated > budget {
			break
		}
		role := "user"
		if m.Role == model.RoleAssistant {
			role = "model"
		}
		reversed = append(reversed, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	// 反转回时间正序
	contents := make([]geminiContent, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		contents = append(contents, reversed[i])
	}
	return contents
}

func (c *geminiClient) systemInstruction() *geminiContent {
	prompt := c.cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return &geminiContent{Role: "user", Parts: []geminiPart{{Text: prompt}}}
}

func (c *geminiClient) newRequest(ctx context.Context, endpoint string, messages []model.ChatMessage) (*http.Request, error) {
	reqBody := geminiRequest{
		SystemInstruction: c.systemInstruction(),
		Contents:          c.buildContents(messages),
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:%s", c.cfg.BaseURL, c.cfg.Model, endpoint)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	return req, nil
}

// GenerateReply 调用 generateContent 接口一次性生成回复。
func (c *geminiClient) GenerateReply(ctx context.Context, messages []model.ChatMessage) (string, error) {
	req, err := c.newRequest(ctx, "generateContent", messages)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}

	text := strings.TrimSpace(flattenParts(parsed))
	if text == "" {
		return fallbackReply, nil
	}
	return text, nil
}

// StreamChat 调用 streamGenerateContent 接口（SSE），逐分块写入 writer。
func (c *geminiClient) StreamChat(ctx context.Context, messages []model.ChatMessage, writer MessageWriter) error {
	req, err := c.newRequest(ctx, "streamGenerateContent?alt=sse", messages)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		content := flattenParts(chunk)
		if content == "" {
			continue
		}
		if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
			return fmt.Errorf("failed to write message to websocket: %w", err)
		}
	}
	return nil
}

// flattenParts 取第一个候选的全部文本片段。
func flattenParts(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
