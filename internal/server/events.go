package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/sentravision/sentra-cloud/internal/event/domain"
	"go.uber.org/zap"
)

func (s *Server) IngestEvent(c *gin.Context) {
	edge := edgeFromContext(c)
	if edge == nil {
		AbortWithError(c, errAuth("invalid_credentials", "Edge node not authenticated"))
		return
	}

	var req eventdomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrUnprocessable)
		return
	}

	result, err := s.eventSvc.Ingest(c.Request.Context(), edge, req)
	if err != nil {
		if errors.Is(err, eventdomain.ErrModuleDisabled) {
			s.logEntitlementDenied(c, edge.EdgeID, req)
		}
		AbortWithError(c, err)
		return
	}

	if result.Evaluated {
		c.JSON(http.StatusOK, gin.H{
			"ok":              true,
			"evaluated":       true,
			"alert_generated": result.AlertGenerated,
			"event_id":        result.EventID,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "event_id": result.EventID})
}

func (s *Server) BatchIngestEvents(c *gin.Context) {
	edge := edgeFromContext(c)
	if edge == nil {
		AbortWithError(c, errAuth("invalid_credentials", "Edge node not authenticated"))
		return
	}

	var req eventdomain.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrUnprocessable)
		return
	}

	result, err := s.eventSvc.BatchIngest(c.Request.Context(), edge, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.logBatchOutcome(c, edge.EdgeID, result)

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"created":   result.Created,
		"evaluated": result.Evaluated,
		"failed":    result.Failed,
		"events":    result.Events,
		"errors":    result.Errors,
	})
}

// logEntitlementDenied records module entitlement rejections at most once
// per suppression window per (edge, module) so a misconfigured node retrying
// in a tight loop cannot flood the logs.
func (s *Server) logEntitlementDenied(c *gin.Context, edgeID string, req eventdomain.IngestRequest) {
	module, _ := req.Meta["module"].(string)
	window := time.Duration(s.edgeCfg.Get().LogSuppressionSeconds) * time.Second
	key := fmt.Sprintf("entitlement:%s:%s", edgeID, module)
	if !s.suppressor.Allow(c.Request.Context(), key, window) {
		return
	}
	s.log.Warn("event rejected: module not licensed",
		zap.String("edge_id", edgeID),
		zap.String("module", module),
		zap.String("event_type", req.EventType))
}

// logBatchOutcome records aggregate batch results at most once per
// suppression window per (edge, outcome) so a misbehaving node cannot flood
// the logs.
func (s *Server) logBatchOutcome(c *gin.Context, edgeID string, result *eventdomain.BatchResult) {
	outcome := "all_succeeded"
	switch {
	case result.Created == 0 && result.Failed > 0:
		outcome = "all_failed"
	case result.Failed > 0:
		outcome = "partial"
	}

	window := time.Duration(s.edgeCfg.Get().LogSuppressionSeconds) * time.Second
	key := fmt.Sprintf("batch:%s:%s", edgeID, outcome)
	if !s.suppressor.Allow(c.Request.Context(), key, window) {
		return
	}

	if outcome == "all_succeeded" {
		s.log.Info("batch ingested",
			zap.String("edge_id", edgeID),
			zap.Int("created", result.Created))
		return
	}
	s.log.Warn("batch ingested with failures",
		zap.String("edge_id", edgeID),
		zap.String("outcome", outcome),
		zap.Int("created", result.Created),
		zap.Int("failed", result.Failed))
}
