package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	licensedomain "github.com/sentravision/sentra-cloud/internal/license/domain"
)

// ValidateLicense checks a license key for an edge installer. Unsigned calls
// are allowed for first-time setup; once signature headers are present the
// full gate applies and the lookup is scoped to the caller's organization.
func (s *Server) ValidateLicense(c *gin.Context) {
	var scopeOrg snowflake.ID

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
		scopeOrg = edge.OrganizationID
	}

	var req licensedomain.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrUnprocessable)
		return
	}

	result, err := s.licenseSvc.Validate(c.Request.Context(), req, scopeOrg)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":           result.Valid,
		"license_id":      result.LicenseID,
		"edge_id":         result.EdgeID,
		"organization_id": result.OrganizationID,
		"expires_at":      result.ExpiresAt,
		"grace_days":      result.GraceDays,
		"modules":         result.Modules,
		"plan":            result.Plan,
		"max_cameras":     result.MaxCameras,
	})
}
