package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

const (
	tenantContextKey = "tenant"
	adminSecretHdr   = "X-Admin-Secret"
	adminTenantHdr   = "X-Tenant-ID"
)

// tenantAuth resolves the acting tenant. Tenants authenticate with their
// bearer token; administrators authenticate with the admin secret and name
// the tenant they act on via X-Tenant-ID.
func (s *Server) tenantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret := c.GetHeader(adminSecretHdr); secret != "" {
			s.adminAuth(c, secret)
			return
		}

		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}

		tenant, err := s.tenants.GetByToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid bearer token"})
			return
		}
		c.Set(tenantContextKey, tenant)
		c.Next()
	}
}

func (s *Server) adminAuth(c *gin.Context, secret string) {
	if s.cfg.AdminSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid admin secret"})
		return
	}

	tenantID, err := strconv.ParseInt(c.GetHeader(adminTenantHdr), 10, 64)
	if err != nil || tenantID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "missing or invalid " + adminTenantHdr + " header"})
		return
	}

	tenant, err := s.tenants.Get(c.Request.Context(), tenantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "tenant not found"})
		return
	}
	c.Set(tenantContextKey, tenant)
	c.Next()
}

// currentTenant returns the tenant resolved by tenantAuth.
func currentTenant(c *gin.Context) *models.Tenant {
	tenant, _ := c.MustGet(tenantContextKey).(*models.Tenant)
	return tenant
}
