package trading

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/ksred/klear-fx/pkg/response"
)

func init() {
	response.RegisterError(ErrQuoteNotFound, http.StatusNotFound, response.ErrCodeNotFound)
	response.RegisterError(ErrNotStarted, http.StatusNotFound, response.ErrCodeNotFound)
}

// GinHandlers contains HTTP handlers for trade booking endpoints
type GinHandlers struct {
	service *Service
	view    *TradesByClient
}

func NewGinHandlers(service *Service, view *TradesByClient) *GinHandlers {
	return &GinHandlers{service: service, view: view}
}

// AcceptQuoteHandler handles POST /trades/accept
func (h *GinHandlers) AcceptQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.AcceptQuoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if !req.Side.Valid() {
			response.BadRequest(c, "Side must be BUY or SELL")
			return
		}
		// set by JWTAuth when auth is enabled
		if caller := c.GetString("clientID"); caller != "" && caller != req.ClientID {
			response.Forbidden(c, "Token does not belong to client "+req.ClientID)
			return
		}

		tradeID, err := h.service.AcceptQuote(c.Request.Context(), req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, types.AcceptQuoteResponse{TradeID: tradeID})
	}
}

// GetTradeHandler handles GET /trades/:tradeId
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := h.service.State(c.Request.Context(), c.Param("tradeId"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, b.Response())
	}
}

// NotificationsHandler handles GET /trades/:tradeId/notifications as a server-sent event stream.
// A trade that is already final is reported at once and the stream ends.
func (h *GinHandlers) NotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID := c.Param("tradeId")

		updates, cancel := h.service.Notifications(tradeID)
		defer cancel()

		b, err := h.service.State(c.Request.Context(), tradeID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if b.Status.Terminal() {
			status := types.NotificationRejected
			if b.Status == types.TradeStatusConfirmed {
				status = types.NotificationConfirmed
			}
			c.SSEvent("trade", b.notification(status))
			return
		}

		c.Stream(func(w io.Writer) bool {
			select {
			case n, ok := <-updates:
				if !ok {
					return false
				}
				c.SSEvent("trade", n)
				return false
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

// ClientTradesHandler handles GET /trades/by-client/:clientId
func (h *GinHandlers) ClientTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trades, err := h.view.Trades(c.Request.Context(), c.Param("clientId"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if trades == nil {
			trades = []TradeEntry{}
		}
		response.Success(c, trades)
	}
}

// ClientUpdatesHandler handles GET /trades/by-client/:clientId/updates as a
// server-sent event stream of the client's existing rows followed by changes.
func (h *GinHandlers) ClientUpdatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.Param("clientId")

		updates, cancel := h.view.Subscribe(clientID)
		defer cancel()

		trades, err := h.view.Trades(c.Request.Context(), clientID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		for _, t := range trades {
			c.SSEvent("trade", t)
		}
		c.Writer.Flush()

		c.Stream(func(w io.Writer) bool {
			select {
			case row, ok := <-updates:
				if !ok {
					return false
				}
				c.SSEvent("trade", row)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
