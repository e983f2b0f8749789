package quotes

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-fx/pkg/response"
)

// GinHandlers contains HTTP handlers for quote endpoints
type GinHandlers struct {
	store     *Store
	broadcast *Broadcast
}

func NewGinHandlers(store *Store, broadcast *Broadcast) *GinHandlers {
	return &GinHandlers{store: store, broadcast: broadcast}
}

// GetQuoteHandler handles GET /clients/:clientId/price-rate/:priceRateId/quota
func (h *GinHandlers) GetQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := h.store.Get(c.Request.Context(), c.Param("priceRateId"), c.Param("clientId"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if q == nil {
			response.NotFound(c, "Quote not found")
			return
		}
		response.Success(c, q)
	}
}

// StreamHandler handles GET /clients/:clientId/quotas as a server-sent event
// stream of the quotes issued to the client from now on
func (h *GinHandlers) StreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		updates, cancel := h.broadcast.Subscribe(c.Param("clientId"))
		defer cancel()

		c.Stream(func(w io.Writer) bool {
			select {
			case q, ok := <-updates:
				if !ok {
					return false
				}
				c.SSEvent("quota", q)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
