package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"career-chat-go/internal/service"
	"career-chat-go/pkg/log"
	"career-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 流式聊天连接。
type ChatHandler struct {
	chatService   service.ChatService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: conn pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
	}
}

// streamRequest 是客户端经 WebSocket 发来的一轮提问。
type streamRequest struct {
	Type      string `json:"type,omitempty"` // "stop" 表示停止指令
	CmdToken  string `json:"cmdToken,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
}

// GetWebsocketToken 为当前用户签发 WebSocket 握手令牌和停止指令令牌。
// WebSocket 握手无法携带 Authorization 头，令牌改由 URL 传递，短时效。
func (h *ChatHandler) GetWebsocketToken(c *gin.Context) {
	claims := c.MustGet("claims").(*token.CustomClaims)

	wsToken, err := h.jwtManager.GenerateWSToken(claims.UserID, claims.Email)
	if err != nil {
		log.Error("GetWebsocketToken: failed to sign ws token", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "签发 WebSocket 令牌失败",
		})
		return
	}

	h.stopTokenLock.Lock()
	// 在真实的多服务器设置中，这应该在 Redis 中生成和存储。
	// 为简单起见，我们在这里使用一个单一的、轮换的令牌。
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	cmdToken := h.stopToken
	h.stopTokenLock.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"wsToken": wsToken, "cmdToken": cmdToken},
	})
}

// Handle 处理一个传入的 WebSocket 连接。
// 每条客户端消息发起一轮流式问答：服务端逐分块写入纯文本 token 帧，
// 成功后写入以 {"done":true 开头的终止帧；失败写入 {"error":...} 帧。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil || claims.Scope != "ws" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	defer h.stopFlags.Delete(connKey(conn))

	log.Infof("WebSocket 连接已建立，用户: %d", claims.UserID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req streamRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeError(conn, "无法解析请求")
			continue
		}

		// 停止指令: {"type":"stop","cmdToken":"..."}
		if req.Type == "stop" {
			h.stopTokenLock.Lock()
			valid := req.CmdToken != "" && req.CmdToken == h.stopToken
			h.stopTokenLock.Unlock()
			if valid {
				h.stopFlags.Store(connKey(conn), true)
				resp := map[string]interface{}{"type": "stop", "message": "响应已停止"}
				b, _ := json.Marshal(resp)
				_ = conn.WriteMessage(websocket.TextMessage, b)
			}
			continue
		}

		content := strings.TrimSpace(req.Content)
		if req.SessionID == "" || content == "" {
			writeError(conn, "sessionId 和 content 不能为空")
			continue
		}

		// 清除上一轮的停止标志
		h.stopFlags.Delete(connKey(conn))
		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(connKey(conn))
			return ok && v.(bool)
		}

		err = h.chatService.StreamExchange(c.Request.Context(), claims.UserID, req.SessionID, content, conn, shouldStop)
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			writeError(conn, "AI服务暂时不可用，请稍后重试")
			// 连接保留，客户端可在同一连接上重试
		}
	}
}

func writeError(conn *websocket.Conn, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func connKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
