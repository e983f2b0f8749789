package clients

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-fx/internal/testutil"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, prices PriceSubscriber) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := NewService(testutil.NewStore(t), prices, &recordingCredit{}, testSettings)
	t.Cleanup(svc.Close)
	h := NewGinHandlers(svc)

	router := gin.New()
	group := router.Group("/clients")
	group.POST("/simulate/credit-update", h.CreditUpdateHandler())
	group.POST("/:clientId/subscribe/:ccyPair", h.SubscribeHandler())
	group.POST("/:clientId/unsubscribe/:ccyPair", h.UnsubscribeHandler())
	group.GET("/:clientId/state", h.GetStateHandler())
	return router, svc
}

func TestHandlers_SubscribeAndGetState(t *testing.T) {
	prices := &gatedPrices{release: make(chan struct{})}
	router, _ := newTestRouter(t, prices)
	defer close(prices.release)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/clients/c1/subscribe/EURUSD", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clients/c1/state", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var st types.ClientStateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "c1", st.ClientID)
	assert.Equal(t, []string{"EURUSD"}, st.Subscriptions)
	assert.Equal(t, "SUBSCRIBING", st.Status)
	assert.Equal(t, "EURUSD", st.PendingPair)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/clients/c1/subscribe/GBPUSD", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CONFLICT")
}

func TestHandlers_CreditUpdate(t *testing.T) {
	router, svc := newTestRouter(t, &gatedPrices{})

	w := httptest.NewRecorder()
	body := `{"clientId":"c1","status":"OK"}`
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/clients/simulate/credit-update", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)

	st, err := svc.State(t.Context(), "c1")
	require.NoError(t, err)
	assert.Equal(t, types.CreditOK, st.CreditStatus)

	w = httptest.NewRecorder()
	body = `{"clientId":"c1","status":"MAYBE"}`
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/clients/simulate/credit-update", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
