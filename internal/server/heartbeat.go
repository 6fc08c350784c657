package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	edgedomain "github.com/sentravision/sentra-cloud/internal/edge/domain"
	"go.uber.org/zap"
)

// Heartbeat serves both halves of the registration state machine. A request
// carrying signature headers is verified like any other signed call; a bare
// request is only honored while the node's secret is undelivered.
func (s *Server) Heartbeat(c *gin.Context) {
	signed := c.GetHeader(HeaderEdgeKey) != "" ||
		c.GetHeader(HeaderEdgeSignature) != "" ||
		c.GetHeader(HeaderEdgeTimestamp) != ""

	if signed {
		edge, err := s.authenticateEdge(c)
		if err != nil {
			s.metrics.ObserveAuthFailure(authReason(err))
			AbortWithError(c, err)
			return
		}
		s.heartbeatAuthenticated(c, edge)
		return
	}

	s.heartbeatFirstContact(c)
}

func (s *Server) heartbeatFirstContact(c *gin.Context) {
	var req edgedomain.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrUnprocessable)
		return
	}
	if req.EdgeID == "" {
		AbortWithError(c, ErrUnprocessable)
		return
	}

	result, err := s.edgeSvc.HeartbeatFirstContact(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.metrics.ObserveHeartbeat("first_contact")

	resp := gin.H{
		"ok":       true,
		"edge":     result.Edge,
		"edge_key": result.EdgeKey,
	}
	if result.EdgeSecret != "" {
		resp["edge_secret"] = result.EdgeSecret
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) heartbeatAuthenticated(c *gin.Context, edge *edgedomain.EdgeNode) {
	var req edgedomain.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrUnprocessable)
		return
	}

	result, err := s.edgeSvc.HeartbeatAuthenticated(c.Request.Context(), edge, req)
	if err != nil {
		s.log.Error("heartbeat failed",
			zap.String("edge_id", edge.EdgeID),
			zap.Error(err))
		AbortWithError(c, err)
		return
	}

	s.metrics.ObserveHeartbeat("authenticated")

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"edge":     result.Edge,
		"edge_key": result.EdgeKey,
	})
}
