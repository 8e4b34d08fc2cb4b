package server

import (
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// trackingMiddleware implements the connection tracker's request-begin and
// response-finish events (spec §4.2) over Echo's request pipeline. The
// connection a request arrived on is recovered from the context value the
// http.Server's ConnContext hook stashed there.
func (s *Server) trackingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, _ := c.Request().Context().Value(connCtxKey{}).(net.Conn)

		requestID := c.Request().Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set(requestIDHeader, requestID)

		decision := s.Tracker.OnRequestBegin(conn, c.Request().URL.Path, func() {
			if conn != nil {
				_ = conn.Close()
			}
		})

		if decision.Reject {
			s.Logger.Debug("rejecting request during shutdown",
				zap.String("request_id", requestID), zap.String("path", c.Request().URL.Path))
			c.Response().Header().Set("Connection", "close")
			err := c.String(http.StatusServiceUnavailable, "Closing")
			if conn != nil {
				_ = conn.Close()
			}
			return err
		}

		err := next(c)
		s.Tracker.OnRequestFinish(conn)
		return err
	}
}
