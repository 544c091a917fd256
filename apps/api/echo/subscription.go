package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/subscription"
)

type subscriptionAPI struct {
	scanner *subscription.Scanner
}

// registerSubscriptionAPI mounts the expiry sweep for the external scheduler. Both verbs run it.
func registerSubscriptionAPI(g *echo.Group, cronSecret string, scanner *subscription.Scanner) {
	api := &subscriptionAPI{scanner: scanner}

	cron := cronSecretMiddleware(cronSecret)
	g.POST("/subscriptions/expiring-check", api.expiringCheck, cron)
	g.GET("/subscriptions/expiring-check", api.expiringCheck, cron)
}

func (api *subscriptionAPI) expiringCheck(ctx echo.Context) error {
	res, err := api.scanner.Scan(ctx.Request().Context(), time.Now())
	if err != nil {
		return errors.Wrap(err, "scanning expiring subscriptions")
	}
	return ctx.JSON(http.StatusOK, res)
}
