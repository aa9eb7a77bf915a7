package httptransport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Spaces-Place/space-place-payment/internal/observability"
	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

const (
	ctxIdentity = "identity"
	ctxBearer   = "bearer"
)

// RequestMetrics records one observability span per request, keyed by
// method and route template.
func RequestMetrics(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		op := c.Request.Method + " " + c.FullPath()
		span := metrics.Start(op)
		c.Next()
		var err error
		if c.Writer.Status() >= 500 {
			err = errInternal
		}
		span.End(err)
	}
}

// RateLimit blocks until the ingress limiter grants a token, counting the
// wait in metrics.
func RateLimit(limiter *payment.RateLimiter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if err := limiter.Wait(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
			return
		}
		metrics.AddRateLimitWait(time.Since(start))
		c.Next()
	}
}

// BearerAuth resolves the bearer credential to a requester identity and
// stashes both in the request context for downstream propagation.
func BearerAuth(auth TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer credential"})
			return
		}

		ident, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}

		c.Set(ctxIdentity, ident)
		c.Set(ctxBearer, token)
		c.Next()
	}
}

func requester(c *gin.Context) (payment.Identity, string) {
	ident, _ := c.MustGet(ctxIdentity).(payment.Identity)
	bearer := c.GetString(ctxBearer)
	return ident, bearer
}
