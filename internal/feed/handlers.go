package feed

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/ksred/klear-fx/pkg/response"
)

func init() {
	response.RegisterError(ErrInvalidRate, http.StatusBadRequest, response.ErrCodeBadRequest)
}

// GinHandlers contains HTTP handlers for simulated feed input
type GinHandlers struct {
	processor *Processor
}

func NewGinHandlers(processor *Processor) *GinHandlers {
	return &GinHandlers{processor: processor}
}

// RateUpdateHandler handles POST /clients/simulate/rate-update
func (h *GinHandlers) RateUpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.RateUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		_, err := h.processor.Process(c.Request.Context(), req)
		response.Handle(c, nil, err)
	}
}
