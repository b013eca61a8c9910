// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"career-chat-go/internal/config"
	"career-chat-go/internal/handler"
	"career-chat-go/internal/indexer"
	"career-chat-go/internal/middleware"
	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
	"career-chat-go/internal/service"
	"career-chat-go/pkg/database"
	"career-chat-go/pkg/kafka"
	"career-chat-go/pkg/llm"
	"career-chat-go/pkg/log"
	"career-chat-go/pkg/search"
	"career-chat-go/pkg/storage"
	"career-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与搜索引擎
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	if err := database.DB.AutoMigrate(&model.User{}, &model.ChatSession{}, &model.Message{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}

	esEnabled := true
	if err := search.InitES(cfg.Elasticsearch); err != nil {
		// ES 不可用时降级：搜索回退到 MySQL 标题匹配
		log.Errorf("es 初始化失败，搜索降级为标题匹配: %s", err)
		esEnabled = false
	}

	kafkaEnabled := esEnabled
	if kafkaEnabled {
		kafka.InitProducer(cfg.Kafka)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	historyRepo := repository.NewHistoryRepository(database.RDB, cfg.Chat.HistoryTTLDays)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays, cfg.JWT.WSTokenExpireMinutes)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepo, jwtManager)
	sessionService := service.NewSessionService(sessionRepo, messageRepo, historyRepo, esEnabled)
	chatService := service.NewChatService(llmClient, sessionRepo, messageRepo, historyRepo, kafkaEnabled)
	exportService := service.NewExportService(sessionRepo, messageRepo, cfg.MinIO)

	// 6. 启动后台 Kafka 消费者：把完成的问答写入搜索索引
	if kafkaEnabled {
		go kafka.StartConsumer(cfg.Kafka, indexer.NewIndexer())
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Chat 路由组，需要认证
		sessionHandler := handler.NewSessionHandler(sessionService, chatService, exportService)
		chatHandler := handler.NewChatHandler(chatService, jwtManager)
		chatGroup := apiV1.Group("/chat")
		chatGroup.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chatGroup.POST("/sessions", sessionHandler.CreateSession)
			chatGroup.GET("/sessions", sessionHandler.ListSessions)
			chatGroup.GET("/sessions/search", sessionHandler.SearchSessions)
			chatGroup.GET("/sessions/:id/messages", sessionHandler.ListMessages)
			chatGroup.POST("/sessions/:id/messages", sessionHandler.SendMessage)
			chatGroup.DELETE("/sessions/:id", sessionHandler.DeleteSession)
			chatGroup.GET("/sessions/:id/export", sessionHandler.ExportSession)
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketToken)
		}

		// WebSocket 流式聊天 (握手令牌在 URL 中)
		r.GET("/chat/stream/:token", chatHandler.Handle)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
