package identity

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

// Middleware authenticates the bearer credential and stores the caller on
// the request context. Requests without a valid credential are rejected.
func Middleware(verifier Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "bearer") {
				return errorbank.Unauthorized("missing bearer token")
			}

			req := c.Request()
			id, err := verifier.VerifyCredential(req.Context(), strings.TrimSpace(token))
			if err != nil {
				return err
			}
			c.SetRequest(req.WithContext(WithIdentity(req.Context(), id)))
			return next(c)
		}
	}
}
