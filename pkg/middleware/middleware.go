package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-fx/internal/auth"
	"github.com/ksred/klear-fx/pkg/response"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type routeLimit struct {
	prefix string
	limit  rate.Limit
	burst  int
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.Mutex

	// Checked in order, first matching prefix wins
	routeLimits = []routeLimit{
		{"/auth", rate.Limit(10.0 / 60.0), 1},
		{"/trades/accept", rate.Limit(600.0 / 60.0), 10},
		{"/clients/simulate", rate.Limit(6000.0 / 60.0), 100},
		{"/clients", rate.Limit(1200.0 / 60.0), 20},
	}
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientID + ":" + path
	v, exists := visitors[key]
	if !exists {
		limit, burst := rate.Inf, 1
		for _, rl := range routeLimits {
			if strings.HasPrefix(path, rl.prefix) {
				limit, burst = rl.limit, rl.burst
				break
			}
		}
		v = &visitor{limiter: rate.NewLimiter(limit, burst)}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles per caller and route. Callers are keyed by token
// client id when authenticated, by IP otherwise.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		if !getLimiter(c.FullPath(), clientID).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// JWTAuth requires a valid bearer token and stores its claims on the context
func JWTAuth(service *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := service.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("clientID", claims.ClientID)
		c.Next()
	}
}

// RequirePermission rejects tokens lacking permission. Must follow JWTAuth.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := c.Get("claims")
		if !ok || !claims.(*auth.Claims).Can(permission) {
			response.Forbidden(c, "Missing permission: "+permission)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClientScope restricts a route to the client named by its :clientId parameter.
// Must follow JWTAuth.
func ClientScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("clientId"); id != "" && id != c.GetString("clientID") {
			response.Forbidden(c, "Token does not belong to client "+id)
			c.Abort()
			return
		}
		c.Next()
	}
}
