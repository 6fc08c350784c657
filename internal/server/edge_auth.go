package server

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	edgedomain "github.com/sentravision/sentra-cloud/internal/edge/domain"
	"github.com/sentravision/sentra-cloud/internal/signature"
	"go.uber.org/zap"
)

const (
	HeaderEdgeKey       = "X-EDGE-KEY"
	HeaderEdgeTimestamp = "X-EDGE-TIMESTAMP"
	HeaderEdgeSignature = "X-EDGE-SIGNATURE"
	HeaderEdgeNonce     = "X-EDGE-NONCE"

	contextEdgeKey = "edge_node"
)

// keyPrefix truncates an edge key for logging. Full keys never hit the logs.
func keyPrefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

// EdgeAuthRequired is the signed-request gate shared by ingestion, license
// validation, and camera fetch. On success the resolved node is attached to
// the request context.
func (s *Server) EdgeAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		edge, err := s.authenticateEdge(c)
		if err != nil {
			s.metrics.ObserveAuthFailure(authReason(err))
			AbortWithError(c, err)
			return
		}
		c.Set(contextEdgeKey, edge)
		c.Next()
	}
}

func authReason(err error) string {
	return err.Error()
}

// edgeFromContext returns the node the gate attached.
func edgeFromContext(c *gin.Context) *edgedomain.EdgeNode {
	v, ok := c.Get(contextEdgeKey)
	if !ok {
		return nil
	}
	edge, _ := v.(*edgedomain.EdgeNode)
	return edge
}

// authenticateEdge resolves and verifies a signed request. The body is read
// and restored so downstream binding still works.
func (s *Server) authenticateEdge(c *gin.Context) (*edgedomain.EdgeNode, error) {
	edgeKey := c.GetHeader(HeaderEdgeKey)
	timestamp := c.GetHeader(HeaderEdgeTimestamp)
	declared := c.GetHeader(HeaderEdgeSignature)

	if edgeKey == "" || timestamp == "" || declared == "" {
		s.log.Warn("edge auth failed: missing headers",
			zap.Bool("key_present", edgeKey != ""),
			zap.Bool("timestamp_present", timestamp != ""),
			zap.Bool("signature_present", declared != ""),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()))
		return nil, errAuth("hmac_required",
			"Missing required authentication headers (X-EDGE-KEY, X-EDGE-TIMESTAMP, X-EDGE-SIGNATURE)")
	}

	edge, err := s.edgeRepo.FindByEdgeKey(c.Request.Context(), edgeKey)
	if err != nil {
		s.log.Warn("edge auth failed: unknown edge key",
			zap.String("edge_key", keyPrefix(edgeKey)),
			zap.String("ip", c.ClientIP()))
		return nil, errAuth("invalid_credentials", "Invalid edge key")
	}

	if edge.EdgeSecret == "" {
		s.log.Error("edge auth failed: node has no secret",
			zap.String("edge_key", keyPrefix(edgeKey)))
		return nil, errAuth("configuration_error", "Edge node not properly configured")
	}

	secret, err := s.cipher.DecryptString(edge.EdgeSecret)
	if err != nil {
		s.log.Error("edge auth failed: secret decryption",
			zap.String("edge_key", keyPrefix(edgeKey)),
			zap.Error(err))
		return nil, errAuth("configuration_error", "Edge node configuration error")
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	cfg := s.edgeCfg.Get()
	window := time.Duration(cfg.ReplayWindowSeconds) * time.Second
	path := strings.TrimPrefix(c.Request.URL.Path, "/")

	if err := signature.Verify(c.Request.Method, path, timestamp, declared, body, secret, s.clock.Now(), window); err != nil {
		s.log.Warn("edge auth failed: signature rejected",
			zap.String("edge_key", keyPrefix(edgeKey)),
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		return nil, err
	}

	// Optional replay barrier: agents that send a nonce get exactly-once
	// semantics on top of the timestamp window.
	if nonce := c.GetHeader(HeaderEdgeNonce); nonce != "" {
		retention := time.Duration(cfg.NonceRetentionMinutes) * time.Minute
		err := s.edgeRepo.ConsumeNonce(c.Request.Context(), edgedomain.EdgeNonce{
			Nonce:      nonce,
			EdgeNodeID: edge.ID,
			IPAddress:  c.ClientIP(),
			UsedAt:     s.clock.Now(),
		}, retention)
		if err != nil {
			s.log.Warn("edge auth failed: nonce rejected",
				zap.String("edge_key", keyPrefix(edgeKey)),
				zap.String("ip", c.ClientIP()),
				zap.Error(err))
			return nil, err
		}
	}

	return edge, nil
}
