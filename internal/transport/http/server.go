// Package transporthttp serves the agent's control surface: status and
// history reads, lifecycle commands, and an SSE event stream. It only ever
// touches immutable snapshots; commands go through the agent's mailbox.
package transporthttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trawler/internal/agent"
	"trawler/internal/ledger"
	"trawler/internal/logger"
)

// TradeReader is the ledger slice the API reads.
type TradeReader interface {
	RecentTrades(ctx context.Context, limit int) ([]ledger.TradeRecord, error)
}

// Server is the HTTP control surface.
type Server struct {
	addr   string
	router *gin.Engine
	logs   *logFeed
}

// ServerConfig wires the server's dependencies.
type ServerConfig struct {
	Addr   string
	Agent  *agent.Agent
	Trades TradeReader
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Agent == nil {
		return nil, errors.New("http server requires the agent")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	// Symbols are slash-form ("BTC/USDT") and arrive percent-encoded in the
	// path; route on the raw path so the encoded slash stays one segment.
	router.UseRawPath = true
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Stream agent logs to connected event clients alongside hub events.
	logs := newLogFeed()
	logger.AddSink(logs.publish)

	api := router.Group("/api/agent")
	h := &handlers{agent: cfg.Agent, trades: cfg.Trades, logs: logs}
	api.GET("/status", h.status)
	api.POST("/start", h.start)
	api.POST("/stop", h.stop)
	api.GET("/positions", h.positions)
	api.POST("/positions/:symbol/close", h.closePosition)
	api.GET("/trades", h.listTrades)
	api.GET("/events", h.events)

	return &Server{addr: cfg.Addr, router: router, logs: logs}, nil
}

func (s *Server) Addr() string { return s.addr }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type handlers struct {
	agent  *agent.Agent
	trades TradeReader
	logs   *logFeed
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.agent.Status())
}

func (h *handlers) start(c *gin.Context) {
	if err := h.agent.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.agent.Status().State})
}

func (h *handlers) stop(c *gin.Context) {
	if err := h.agent.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.agent.Status().State})
}

func (h *handlers) positions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": h.agent.Status().Positions})
}

func (h *handlers) closePosition(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := h.agent.CloseSymbol(c.Request.Context(), symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": symbol})
}

func (h *handlers) listTrades(c *gin.Context) {
	if h.trades == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []ledger.TradeRecord{}})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	records, err := h.trades.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": records})
}

// events streams the agent event hub and agent log lines over SSE until
// the client leaves.
func (h *handlers) events(c *gin.Context) {
	ch, cancel := h.agent.Events().Subscribe()
	defer cancel()
	logCh, logCancel := h.logs.subscribe()
	defer logCancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt)
			return true
		case line := <-logCh:
			c.SSEvent("log", line)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
