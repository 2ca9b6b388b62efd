package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dshills/langgraph-travel/internal/log"
	"github.com/dshills/langgraph-travel/internal/rag"
)

type initializeRequest struct {
	URLs []string `json:"urls" binding:"omitempty,dive,url"`
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleRAGInitialize(c *gin.Context) {
	var req initializeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := s.rag.Initialize(c.Request.Context(), req.URLs); err != nil {
		log.Errorf("rag initialize failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to initialize pipeline"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Pipeline initialized successfully"})
}

func (s *Server) handleRAGQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ans, err := s.rag.Query(c.Request.Context(), req.Query)
	switch {
	case errors.Is(err, rag.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	case err != nil:
		log.Errorf("rag query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": GenericError})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"answer":  ans.Answer,
		"steps":   ans.Steps,
		"history": ans.History,
	})
}

func (s *Server) handleRAGHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": s.rag.History()})
}

func (s *Server) handleRAGClear(c *gin.Context) {
	s.rag.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "History cleared"})
}

func (s *Server) handleRAGStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.rag.Status())
}
