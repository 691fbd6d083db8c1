package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"github.com/erp/receiving/internal/interfaces/http/dto"
	"github.com/erp/receiving/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, code, message string) {
	h.Error(c, http.StatusBadRequest, code, message)
}

// HandleError converts err to an HTTP response. Domain errors keep their
// code, store faults become 503 and anything else is a 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	switch {
	case errors.As(err, &domainErr):
		code := dto.NormalizeErrorCode(domainErr.Code)
		h.Error(c, dto.GetHTTPStatus(code), code, domainErr.Message)
	case receiving.IsTransient(err):
		logger.L(c.Request.Context()).Warn("store unavailable", zap.Error(err))
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Service temporarily unavailable, retry later")
	default:
		logger.L(c.Request.Context()).Error("unexpected error", zap.Error(err))
		h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
	}
}

// BindJSON decodes the body into req, answering 400 on failure. An empty
// body is allowed when allowEmpty is set.
func (h *BaseHandler) BindJSON(c *gin.Context, req any, allowEmpty bool) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeBadRequest, "Request body exceeds maximum allowed size")
			return false
		}
		h.BadRequest(c, dto.ErrCodeInvalidJSON, "Malformed request body")
		return false
	}
	return true
}

// sessionKey parses the :location and :date path segments
func (h *BaseHandler) sessionKey(c *gin.Context) (receiving.SessionKey, bool) {
	var uri dto.SessionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, dto.ErrCodeValidation, "Location and date are required")
		return receiving.SessionKey{}, false
	}
	key, err := receiving.ParseSessionKey(uri.Location, uri.Date)
	if err != nil {
		h.HandleError(c, err)
		return receiving.SessionKey{}, false
	}
	return key, true
}
