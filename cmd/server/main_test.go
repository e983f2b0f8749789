package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeListener bool

func (f fakeListener) IsRunning() bool { return bool(f) }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		kafka  runningChecker
		status int
		body   string
	}{
		{"kafka disabled", nil, http.StatusOK, `{"status":"ok"}`},
		{"kafka consuming", fakeListener(true), http.StatusOK, `{"status":"ok"}`},
		{"kafka stopped", fakeListener(false), http.StatusServiceUnavailable, `{"kafka":"stopped","status":"degraded"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/healthz", healthHandler(tc.kafka))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.status, w.Code)
			assert.JSONEq(t, tc.body, w.Body.String())
		})
	}
}
