// Package middleware provides HTTP middleware for the invoicing API.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/invoicer/backend/internal/infrastructure/auth"
	"github.com/invoicer/backend/internal/infrastructure/logger"
	"github.com/invoicer/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// Context keys set by TenantContext
const (
	TenantIDKey = "tenant_id"
	TenantKey   = "tenant"
)

// TenantHeader carries the tenant id when header auth is allowed
const TenantHeader = "X-Tenant-ID"

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// TenantMiddlewareConfig configures tenant resolution
type TenantMiddlewareConfig struct {
	Tokens  TokenVerifier
	Tenants identity.TenantRepository
	// AllowHeader accepts X-Tenant-ID without a token. Development only.
	AllowHeader bool
	Logger      *zap.Logger
}

// TenantContext resolves the calling tenant from a bearer token, loads it
// and stores it on the gin context. Unknown tenants get 401. Suspended
// tenants may still read but every write is refused with 403.
func TenantContext(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		tenantID, code, message := resolveTenantID(c, cfg)
		if code != "" {
			abort(c, http.StatusUnauthorized, code, message)
			return
		}

		tenant, err := cfg.Tenants.FindByID(c.Request.Context(), tenantID)
		if errors.Is(err, shared.ErrNotFound) || (err == nil && tenant == nil) {
			abort(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Unknown tenant")
			return
		}
		if err != nil {
			log.Error("Failed to load tenant", zap.String("tenant_id", tenantID.String()), zap.Error(err))
			abort(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
			return
		}
		if !tenant.IsActive() && isWrite(c.Request.Method) {
			abort(c, http.StatusForbidden, dto.ErrCodeTenantSuspended, "Tenant account is suspended")
			return
		}

		ctx, _ := logger.WithTenantID(c.Request.Context(), logger.FromContext(c.Request.Context()), tenantID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(TenantIDKey, tenantID)
		c.Set(TenantKey, tenant)
		c.Next()
	}
}

func resolveTenantID(c *gin.Context, cfg TenantMiddlewareConfig) (uuid.UUID, string, string) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || cfg.Tokens == nil {
			return uuid.Nil, dto.ErrCodeTokenInvalid, "Invalid authorization header"
		}
		claims, err := cfg.Tokens.ValidateToken(strings.TrimSpace(token))
		if errors.Is(err, auth.ErrExpiredToken) {
			return uuid.Nil, dto.ErrCodeTokenExpired, "Token has expired"
		}
		if err != nil {
			return uuid.Nil, dto.ErrCodeTokenInvalid, "Invalid token"
		}
		id, err := claims.TenantUUID()
		if err != nil {
			return uuid.Nil, dto.ErrCodeTokenInvalid, "Invalid token"
		}
		return id, "", ""
	}

	if cfg.AllowHeader {
		if raw := c.GetHeader(TenantHeader); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return uuid.Nil, dto.ErrCodeUnauthorized, "Invalid tenant id"
			}
			return id, "", ""
		}
	}
	return uuid.Nil, dto.ErrCodeUnauthorized, "Authentication required"
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponseWithRequestID(code, message, logger.GetRequestID(c.Request.Context())))
}

// GetTenantID returns the tenant resolved by TenantContext
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(TenantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// GetTenant returns the tenant loaded by TenantContext
func GetTenant(c *gin.Context) *identity.Tenant {
	if v, ok := c.Get(TenantKey); ok {
		if t, ok := v.(*identity.Tenant); ok {
			return t
		}
	}
	return nil
}
