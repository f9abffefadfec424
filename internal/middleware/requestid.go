package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier between client, proxy,
	// and server.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID so the
	// request logger and handlers can read it without parsing headers.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware tags every request with an identifier. An inbound
// X-Request-ID (from a load balancer or the client) is kept as-is; otherwise
// a fresh UUID is minted. The ID ends up in three places: the gin context
// under RequestIDKey, the structured request log line, and the response
// header, which is what lets an operator chase one suspicious request from a
// client report through the logs to its audit rows.
//
// Register it right after Recovery so everything downstream sees the ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
