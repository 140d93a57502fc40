// Package demomiddleware holds the gin middleware used by cmd/demo's
// webhook server: request logging and gateway bearer-token auth.
package demomiddleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vitalconnect/resilor/internal/gatewayauth"
)

// gatewayClaimsKey is the gin context key holding the verified claims.
const gatewayClaimsKey = "gateway_claims"

// Logger logs one line per request: method, path, status, latency, a
// generated request id carried for correlation with downstream logs.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Printf("[%s] %s %s %d %v", requestID, method, path, c.Writer.Status(), time.Since(start))
	}
}

// GatewayAuthRequired verifies the bearer token on inbound webhook calls
// using v, aborting with 401 on any failure.
func GatewayAuthRequired(v *gatewayauth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := v.FromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": err.Error()})
			return
		}
		c.Set(gatewayClaimsKey, claims)
		c.Next()
	}
}

// GatewayClaims extracts the claims a prior GatewayAuthRequired call
// verified and stored in c.
func GatewayClaims(c *gin.Context) (*gatewayauth.Claims, bool) {
	v, exists := c.Get(gatewayClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*gatewayauth.Claims)
	return claims, ok
}
