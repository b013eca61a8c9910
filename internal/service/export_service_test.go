package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"career-chat-go/internal/model"
)

func TestRenderTranscript(t *testing.T) {
	session := &model.ChatSession{ID: "s1", Title: "转行咨询"}
	at := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	messages := []model.Message{
		{Role: model.RoleUser, Content: "我想从运营转做产品", CreatedAt: at},
		{Role: model.RoleAssistant, Content: "可以先从内部转岗机会开始", CreatedAt: at.Add(time.Minute)},
	}

	out := RenderTranscript(session, messages)

	assert.True(t, strings.HasPrefix(out, "# 转行咨询\n\n"))
	assert.Contains(t, out, "**You** (2026-08-30 10:15):\n\n我想从运营转做产品\n\n---\n\n")
	assert.Contains(t, out, "**Counselor** (2026-08-30 10:16):\n\n可以先从内部转岗机会开始")
	// 顺序：提问在前，回答在后
	assert.Less(t, strings.Index(out, "我想从运营转做产品"), strings.Index(out, "可以先从内部转岗机会开始"))
}

func TestRenderTranscriptEmptySession(t *testing.T) {
	session := &model.ChatSession{ID: "s1", Title: "空会话"}
	out := RenderTranscript(session, nil)
	assert.Contains(t, out, "# 空会话")
	assert.NotContains(t, out, "**You**")
}
