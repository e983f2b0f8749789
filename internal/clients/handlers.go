package clients

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-fx/internal/pricing"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/ksred/klear-fx/pkg/response"
)

func init() {
	response.RegisterError(ErrBusy, http.StatusConflict, response.ErrCodeConflict)
	response.RegisterError(pricing.ErrNotSubscribed, http.StatusConflict, response.ErrCodeConflict)
}

// GinHandlers contains HTTP handlers for client subscription endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SubscribeHandler handles POST /clients/:clientId/subscribe/:ccyPair
func (h *GinHandlers) SubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.service.Subscribe(c.Request.Context(), c.Param("clientId"), c.Param("ccyPair"))
		response.Handle(c, nil, err)
	}
}

// UnsubscribeHandler handles POST /clients/:clientId/unsubscribe/:ccyPair
func (h *GinHandlers) UnsubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.service.Unsubscribe(c.Request.Context(), c.Param("clientId"), c.Param("ccyPair"))
		response.Handle(c, nil, err)
	}
}

// GetStateHandler handles GET /clients/:clientId/state
func (h *GinHandlers) GetStateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := h.service.State(c.Request.Context(), c.Param("clientId"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, st.Response())
	}
}

// CreditUpdateHandler handles POST /clients/simulate/credit-update
func (h *GinHandlers) CreditUpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CreditUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if !req.Status.Valid() {
			response.BadRequest(c, "Unknown credit status")
			return
		}

		err := h.service.CreditCheckStatus(c.Request.Context(), req.ClientID, req.Status)
		response.Handle(c, nil, err)
	}
}
