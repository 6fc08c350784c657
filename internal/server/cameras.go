package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListCameras returns the calling edge node's camera assignments with
// credentials masked.
func (s *Server) ListCameras(c *gin.Context) {
	edge := edgeFromContext(c)
	if edge == nil {
		AbortWithError(c, errAuth("invalid_credentials", "Edge node not authenticated"))
		return
	}

	cameras, err := s.cameraSvc.ListForEdge(c.Request.Context(), edge.OrganizationID, edge.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cameras": cameras,
		"count":   len(cameras),
	})
}
