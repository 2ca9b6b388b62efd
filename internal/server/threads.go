package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dshills/langgraph-travel/graph/emit"
)

type startRequest struct {
	ThreadID string            `json:"thread_id" binding:"omitempty,max=128"`
	Config   map[string]string `json:"config"`
}

type sendRequest struct {
	Text string `json:"text" binding:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	// An empty body starts a thread with a new id.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	id, err := s.sessions.Start(c.Request.Context(), req.ThreadID, req.Config)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread_id": id})
}

// handleSend streams the run as server-sent events named after
// session.Event types.
func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if s.events != nil {
		s.events.Clear(c.Param("id"))
	}
	events, err := s.sessions.Send(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	for ev := range events {
		if ev.Err != nil {
			ev.Error = GenericError
		}
		c.SSEvent(ev.Type, ev)
		c.Writer.Flush()
	}
}

func (s *Server) handleState(c *gin.Context) {
	snap, err := s.sessions.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHistory(c *gin.Context) {
	history, err := s.sessions.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": history})
}

func (s *Server) handleApprove(c *gin.Context) {
	msgs, err := s.sessions.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleReject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msgs, err := s.sessions.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type eventView struct {
	Step   int                    `json:"step"`
	NodeID string                 `json:"node_id,omitempty"`
	Msg    string                 `json:"msg"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

// handleEvents lists the engine events of the thread's latest turn,
// optionally narrowed with ?node= and ?msg=.
func (s *Server) handleEvents(c *gin.Context) {
	filter := emit.HistoryFilter{NodeID: c.Query("node"), Msg: c.Query("msg")}
	events := s.events.GetHistoryWithFilter(c.Param("id"), filter)

	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{Step: ev.Step, NodeID: ev.NodeID, Msg: ev.Msg, Meta: ev.Meta})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}
