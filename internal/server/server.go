// Package server exposes the travel assistant sessions and the retrieval
// pipeline over HTTP.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/internal/log"
	"github.com/dshills/langgraph-travel/internal/rag"
	"github.com/dshills/langgraph-travel/internal/session"
)

// GenericError is the body of every unexpected failure. The thread stays
// resumable from its last checkpoint.
const GenericError = "something went wrong, try again"

// Server holds the handlers' dependencies.
type Server struct {
	sessions *session.Controller
	rag      *rag.Pipeline
	gatherer prometheus.Gatherer
	events   *emit.BufferedEmitter
}

// Option configures a Server.
type Option func(*Server)

// WithEvents serves the engine events collected by buf on
// GET /threads/:id/events. buf must also be the engine's emitter. Only the
// latest turn of each thread is kept.
func WithEvents(buf *emit.BufferedEmitter) Option {
	return func(s *Server) { s.events = buf }
}

// New creates a server. pipeline may be nil, which disables the /rag
// routes. gatherer defaults to prometheus.DefaultGatherer.
func New(sessions *session.Controller, pipeline *rag.Pipeline, gatherer prometheus.Gatherer, opts ...Option) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{sessions: sessions, rag: pipeline, gatherer: gatherer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	threads := r.Group("/threads")
	{
		threads.POST("", s.handleStart)
		threads.POST("/:id/messages", s.handleSend)
		threads.GET("/:id", s.handleState)
		threads.GET("/:id/history", s.handleHistory)
		threads.POST("/:id/approve", s.handleApprove)
		threads.POST("/:id/reject", s.handleReject)
		if s.events != nil {
			threads.GET("/:id/events", s.handleEvents)
		}
	}

	if s.rag != nil {
		ragRoutes := r.Group("/rag")
		{
			ragRoutes.POST("/initialize", s.handleRAGInitialize)
			ragRoutes.POST("/query", s.handleRAGQuery)
			ragRoutes.GET("/history", s.handleRAGHistory)
			ragRoutes.POST("/clear", s.handleRAGClear)
			ragRoutes.GET("/status", s.handleRAGStatus)
		}
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// fail maps an error to a status code. Anything unexpected is logged and
// reported as GenericError.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, graph.ErrThreadPaused), errors.Is(err, session.ErrNotPaused):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, graph.ErrThreadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": GenericError})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}
