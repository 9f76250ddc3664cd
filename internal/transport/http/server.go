// Package httpapi 暴露只读的引擎状态接口与手工下单入口。
// 引擎本身单线程，所有访问都经 EngineMu 与事件循环互斥。
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"marlin/internal/engine"
	"marlin/internal/logger"
	"marlin/internal/store/gormstore"
	"marlin/internal/store/runstore"

	"github.com/gin-gonic/gin"
)

type Server struct {
	addr   string
	router *gin.Engine
	srv    *http.Server
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr     string
	Engine   *engine.Engine
	EngineMu *sync.Mutex
	Store    *gormstore.GormStore   // 可为 nil
	Runs     *runstore.SessionStore // 可为 nil
	Mode     string                 // "paper" / "live"
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil || cfg.EngineMu == nil {
		return nil, errors.New("http server requires engine and its mutex")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9880"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h := &handlers{cfg: cfg}
	api := router.Group("/api")
	{
		api.GET("/status", h.status)
		api.GET("/portfolio", h.portfolio)
		api.GET("/orders", h.orders)
		api.GET("/trades", h.trades)
		api.GET("/metrics", h.metrics)
		api.GET("/report", h.reportHTML)
		api.GET("/report.png", h.reportPNG)
		api.GET("/sessions", h.sessions)
		api.GET("/sessions/:id", h.session)
		api.POST("/orders", h.placeOrder)
		api.DELETE("/orders/:id", h.cancelOrder)
	}
	return &Server{addr: cfg.Addr, router: router}, nil
}

// Start 非阻塞启动。
func (s *Server) Start() {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	go func() {
		logger.Infof("http api listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http api stopped: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Router 暴露给测试用。
func (s *Server) Router() *gin.Engine { return s.router }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start))
	}
}
