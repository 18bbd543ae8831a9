// Package metrics exposes operational counters and the HTTP ops endpoint.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesIngested counts every persisted incoming message.
	MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gryag_messages_ingested_total",
		Help: "Incoming messages persisted.",
	})

	// RepliesSent counts outgoing bot replies.
	RepliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gryag_replies_sent_total",
		Help: "Replies sent to chats.",
	})

	// LockDrops counts messages dropped because the processing lock was held.
	LockDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gryag_lock_drops_total",
		Help: "Addressed messages dropped while a generation was in flight.",
	})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gryag_rate_limited_total",
		Help: "Requests rejected by the hourly rate limiter.",
	})

	// MediaFailures counts silently skipped media downloads.
	MediaFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gryag_media_failures_total",
		Help: "Media downloads skipped after retries.",
	})

	// GenerateFailures counts failed generation attempts.
	GenerateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gryag_generate_failures_total",
		Help: "LLM generation failures surfaced to users.",
	})

	// GenerateLatency observes end-to-end generation latency.
	GenerateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gryag_generate_latency_seconds",
		Help:    "Latency of one generation including tool rounds.",
		Buckets: prometheus.DefBuckets,
	})

	// ContextAssemblyLatency observes context assembly latency.
	ContextAssemblyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gryag_context_assembly_seconds",
		Help:    "Latency of layered context assembly.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// EpisodesCreated counts persisted episodes.
	EpisodesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gryag_episodes_created_total",
		Help: "Episodes carved from conversation windows.",
	})
)

// Server is the ops HTTP server carrying /healthz and /metrics.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer creates the ops server. addr empty disables it.
func NewServer(addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, addr: addr}
}

// Start serves until the context is canceled. It returns immediately when no
// address is configured.
func (s *Server) Start(ctx context.Context) {
	if s.addr == "" {
		return
	}
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server failed", "addr", s.addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ops server shutdown failed", "error", err)
		}
	}()
}
