package server

import (
	"context"
	"net/http"

	"tube-keeper/app/config"
	"tube-keeper/app/database"
	"tube-keeper/app/filewatcher"
	"tube-keeper/app/handler"
	"tube-keeper/app/logger"
	"tube-keeper/app/middleware"
	"tube-keeper/app/service"
	"tube-keeper/app/store"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config  *config.Config
	Logger  *logger.Logger
	gin     *gin.Engine
	http    *http.Server
	audit   *service.AuditService
	watcher *filewatcher.Watcher
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger, taskStore *store.TaskStore, download *service.DownloadService, audit *service.AuditService, watcher *filewatcher.Watcher) *Server {
	router := gin.Default()

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:  cfg,
		Logger:  log,
		audit:   audit,
		watcher: watcher,
	}

	s.setupRoutes(taskStore, download)

	return s
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	// 启动定时对账
	if err := s.audit.Start(); err != nil {
		return err
	}

	// 启动输出目录监控
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.Logger.Warnf("输出目录监控启动失败: %v", err)
		}
	}

	return s.http.ListenAndServe()
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.audit.Stop()

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.Logger.Errorf("停止输出目录监控失败: %v", err)
		}
	}

	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes(taskStore *store.TaskStore, download *service.DownloadService) {
	authHandler := handler.NewAuthHandler(s.Config)
	taskHandler := handler.NewTaskHandler(taskStore, download)
	auditHandler := handler.NewAuditHandler(s.audit)

	// API路由组
	api := s.gin.Group("/api")

	// 认证相关路由（不需要JWT验证）
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.RefreshToken)
	}

	// 需要JWT验证的路由
	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(s.Config))
	{
		// 用户相关
		protected.GET("/me", authHandler.Me)

		// 下载任务相关路由
		tasks := protected.Group("/tasks")
		{
			tasks.GET("/", taskHandler.List)
			tasks.GET("/stats", taskHandler.Stats)
			tasks.GET("/:video_id", taskHandler.Get)
			tasks.POST("/", taskHandler.Submit)
			tasks.POST("/:video_id/retry", taskHandler.Retry)
		}

		// 对账相关路由
		audits := protected.Group("/audits")
		{
			audits.POST("/run", auditHandler.Run)
			audits.GET("/missing-files", auditHandler.MissingFiles)
			audits.GET("/duplicate-titles", auditHandler.DuplicateTitles)
		}
	}
}
