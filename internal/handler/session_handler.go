package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
	"career-chat-go/internal/service"
	"career-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SessionHandler 处理聊天会话的 CRUD、搜索与导出请求。
type SessionHandler struct {
	sessionService service.SessionService
	chatService    service.ChatService
	exportService  service.ExportService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessionService service.SessionService, chatService service.ChatService, exportService service.ExportService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		chatService:    chatService,
		exportService:  exportService,
	}
}

// currentUser 取出 AuthMiddleware 注入的用户。
func currentUser(c *gin.Context) *model.User {
	return c.MustGet("user").(*model.User)
}

// clampLimit 将 limit 参数裁剪到 [1, max]，无效值落到默认值。
func clampLimit(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// CreateSessionRequest 定义了创建会话 API 的请求体结构。
type CreateSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

// CreateSession 处理创建会话请求。
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "标题不能为空",
		})
		return
	}

	user := currentUser(c)
	session, err := h.sessionService.Create(c.Request.Context(), user.ID, req.Title)
	if err != nil {
		log.Error("CreateSession: failed to create session", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "创建会话失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": session})
}

// ListSessions 处理分页获取会话列表的请求。
func (h *SessionHandler) ListSessions(c *gin.Context) {
	user := currentUser(c)
	page, err := h.sessionService.List(c.Request.Context(), user.ID, c.Query("cursor"), clampLimit(c, 10, 50))
	if err != nil {
		log.Error("ListSessions: failed to list sessions", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "获取会话列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": page})
}

// SearchSessions 处理按标题/内容搜索会话的请求。
func (h *SessionHandler) SearchSessions(c *gin.Context) {
	user := currentUser(c)
	page, err := h.sessionService.Search(c.Request.Context(), user.ID, c.Query("query"), c.Query("cursor"), clampLimit(c, 10, 50))
	if err != nil {
		log.Error("SearchSessions: failed to search sessions", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "搜索会话失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": page})
}

// ListMessages 处理分页获取会话消息的请求。
func (h *SessionHandler) ListMessages(c *gin.Context) {
	user := currentUser(c)
	sessionID := c.Param("id")

	page, err := h.sessionService.ListMessages(c.Request.Context(), user.ID, sessionID, c.Query("cursor"), clampLimit(c, 20, 100))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "会话不存在或已删除",
			})
			return
		}
		log.Error("ListMessages: failed to list messages", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "获取消息失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": page})
}

// SendMessageRequest 定义了一次性发送消息 API 的请求体结构。
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage 处理一次性问答请求，返回 {userMessage, aiMessage}。
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "消息内容不能为空",
		})
		return
	}

	user := currentUser(c)
	sessionID := c.Param("id")

	result, err := h.chatService.SendMessage(c.Request.Context(), user.ID, sessionID, strings.TrimSpace(req.Content))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "会话不存在或已删除",
			})
			return
		}
		log.Error("SendMessage: exchange failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "AI服务暂时不可用，请稍后重试",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// DeleteSession 处理软删除会话的请求。
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	user := currentUser(c)
	sessionID := c.Param("id")

	if err := h.sessionService.Delete(c.Request.Context(), user.ID, sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "会话不存在或已删除",
			})
			return
		}
		log.Error("DeleteSession: failed to delete session", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "删除会话失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"success": true}})
}

// ExportSession 导出会话转写稿，返回预签名下载链接。
func (h *SessionHandler) ExportSession(c *gin.Context) {
	user := currentUser(c)
	sessionID := c.Param("id")

	url, err := h.exportService.ExportTranscript(c.Request.Context(), user.ID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "会话不存在或已删除",
			})
			return
		}
		log.Error("ExportSession: failed to export transcript", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "导出会话失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"url": url}})
}
