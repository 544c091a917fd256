package echoapi

import "github.com/labstack/echo/v4"

const webhookSecretHeader = "X-Webhook-Secret"

// cronSecretMiddleware admits scheduler calls carrying "Authorization: Bearer <secret>".
func cronSecretMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !secretEqual(secret, bearerToken(ctx)) {
				return errUnauthorized
			}
			return next(ctx)
		}
	}
}

// webhookSecretMiddleware admits payment gateway calls carrying the shared webhook secret.
func webhookSecretMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !secretEqual(secret, ctx.Request().Header.Get(webhookSecretHeader)) {
				return errUnauthorized
			}
			return next(ctx)
		}
	}
}
