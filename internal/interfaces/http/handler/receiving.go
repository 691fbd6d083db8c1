package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	receivingapp "github.com/erp/receiving/internal/application/receiving"
	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/interfaces/http/dto"
	"github.com/erp/receiving/internal/interfaces/http/middleware"
)

// ReceivingHandler serves the request/response operations of the engine.
// Business rejections of scans and completions are 200 responses carrying
// their outcome. Invalid input and infrastructure outcomes keep the result
// as data but answer 400, 500 or 503.
type ReceivingHandler struct {
	BaseHandler
	service *receivingapp.Service
}

// NewReceivingHandler creates a new ReceivingHandler
func NewReceivingHandler(service *receivingapp.Service) *ReceivingHandler {
	return &ReceivingHandler{service: service}
}

// RegisterScan handles POST /sessions/:location/:date/scans
func (h *ReceivingHandler) RegisterScan(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	var req dto.RegisterScanRequest
	if !h.BindJSON(c, &req, false) {
		return
	}

	result, err := h.service.RegisterScan(c.Request.Context(), key, req.PackageID, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	switch result.Outcome {
	case receiving.ScanOutcomeValidationError:
		h.outcome(c, http.StatusBadRequest, dto.ErrCodeValidation, result, result.Reason)
	case receiving.ScanOutcomeTransientInfra:
		h.outcome(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, result, result.Reason)
	default:
		h.Success(c, result)
	}
}

// GetProgress handles GET /sessions/:location/:date/progress
func (h *ReceivingHandler) GetProgress(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	progress, err := h.service.GetProgress(c.Request.Context(), key)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, progress)
}

// RequestCompletion handles POST /sessions/:location/:date/complete
func (h *ReceivingHandler) RequestCompletion(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	result, err := h.service.RequestCompletion(c.Request.Context(), key, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	switch result.Outcome {
	case receiving.CompletionOutcomePersistenceFailure:
		h.outcome(c, http.StatusInternalServerError, dto.ErrCodeInternal, result, result.Reason)
	case receiving.CompletionOutcomeTransientInfra:
		h.outcome(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, result, result.Reason)
	default:
		h.Success(c, result)
	}
}

// GetSnapshot handles GET /sessions/:location/:date/snapshot
func (h *ReceivingHandler) GetSnapshot(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	snapshot, err := h.service.GetSnapshot(c.Request.Context(), key)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, snapshot)
}

// ReloadManifest handles PUT /sessions/:location/:date/manifest
func (h *ReceivingHandler) ReloadManifest(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	var req receivingapp.ReloadManifestRequest
	if !h.BindJSON(c, &req, false) {
		return
	}
	progress, err := h.service.ReloadManifest(c.Request.Context(), key, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, progress)
}

func (h *ReceivingHandler) outcome(c *gin.Context, status int, code string, result any, reason string) {
	c.JSON(status, dto.NewOutcomeResponse(result, code, reason, middleware.GetRequestID(c)))
}
