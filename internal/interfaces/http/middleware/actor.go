package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/receiving/internal/infrastructure/auth"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"github.com/erp/receiving/internal/interfaces/http/dto"
)

const (
	// ActorKey is the gin context key holding the acting operator
	ActorKey = "actor"
	// AuthHeaderKey is the header carrying the bearer token
	AuthHeaderKey = "Authorization"
	// BearerPrefix prefixes the token in AuthHeaderKey
	BearerPrefix = "Bearer "
	// TokenQueryParam carries the token for clients that cannot set headers (EventSource, WebSocket)
	TokenQueryParam = "access_token"
)

// ActorConfig selects how the actor is established
type ActorConfig struct {
	// Verifier enables bearer token authentication. When nil the actor is
	// read from Header without verification.
	Verifier *auth.TokenVerifier
	Header   string
	Logger   *zap.Logger
}

// Actor establishes the operator identity of each request.
// With a verifier a valid token is mandatory; the header is ignored.
func Actor(cfg ActorConfig) gin.HandlerFunc {
	if cfg.Header == "" {
		cfg.Header = "X-Actor"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		var actor string
		if cfg.Verifier == nil {
			actor = strings.TrimSpace(c.GetHeader(cfg.Header))
		} else {
			token := bearerToken(c)
			if token == "" {
				abortUnauthorized(c, dto.ErrCodeUnauthorized, "Authentication required")
				return
			}
			claims, err := cfg.Verifier.Verify(token)
			if err != nil {
				cfg.Logger.Warn("token verification failed",
					zap.Error(err),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", GetRequestID(c)),
				)
				abortUnauthorized(c, dto.ErrCodeTokenInvalid, tokenMessage(err))
				return
			}
			actor = claims.Actor()
		}

		if actor != "" {
			c.Set(ActorKey, actor)
			c.Request = c.Request.WithContext(logger.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}

// GetActor returns the actor set by Actor, or ""
func GetActor(c *gin.Context) string {
	return c.GetString(ActorKey)
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, BearerPrefix))
	}
	return c.Query(TokenQueryParam)
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		return "Token is not yet valid"
	case errors.Is(err, auth.ErrMissingSubject):
		return "Token carries no subject"
	}
	return "Invalid token"
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
}
