package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/cache"
	"pricerelay/internal/infrastructure/metrics"
)

// maxWebhookBody 告警回调的请求体上限
const maxWebhookBody = 1 << 20

// AlertReceiver 由 service.AlertService 实现
type AlertReceiver interface {
	Receive(ctx context.Context, body any) domain.TradeIntent
}

// Hub 由 push.Hub 实现
type Hub interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Latest() []cache.Entry
	Count() int
}

type Deps struct {
	Hub            Hub
	Alerts         AlertReceiver
	Connectors     []port.Connector
	MetricsEnabled bool
}

type Server struct {
	deps   Deps
	engine *gin.Engine
}

func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{deps: deps, engine: r}
	r.POST("/webhook", s.webhookHandler)
	r.GET("/ws", gin.WrapF(deps.Hub.ServeWS))
	r.GET("/api/latest", s.latestHandler)
	r.GET("/healthz", s.healthHandler)
	if deps.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run 阻塞直到 ctx 取消，然后在 grace 时间内优雅关闭
func (s *Server) Run(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}

// webhookHandler 接收 JSON、表单或纯文本告警
func (s *Server) webhookHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)

	var body any
	switch c.ContentType() {
	case gin.MIMEPOSTForm:
		if err := c.Request.ParseForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		body = c.Request.PostForm
	default:
		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		body = raw
	}

	intent := s.deps.Alerts.Receive(c.Request.Context(), body)
	c.JSON(http.StatusOK, gin.H{"ok": true, "received": intent})
}

func (s *Server) latestHandler(c *gin.Context) {
	out := make(map[string]any)
	for _, e := range s.deps.Hub.Latest() {
		out[e.Event] = e.Payload
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) healthHandler(c *gin.Context) {
	states := make(map[string]string, len(s.deps.Connectors))
	for _, conn := range s.deps.Connectors {
		state := "unknown"
		if sr, ok := conn.(port.StateReporter); ok {
			state = sr.State()
		}
		states[conn.Name()] = state
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"subscribers": s.deps.Hub.Count(),
		"connectors":  states,
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			evt = evt.Str("error", msg)
		}
		evt.Str("method", c.Request.Method).
			Str("uri", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
