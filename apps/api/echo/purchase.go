package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/purchase"
)

type purchaseAPI struct {
	service  *purchase.Service
	validate *validator.Validate
}

func registerPurchaseAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *purchase.Service, validate *validator.Validate) {
	api := &purchaseAPI{
		service:  svc,
		validate: validate,
	}

	purchases := g.Group("/purchases", jwt)
	purchases.POST("", api.create)
	purchases.GET("", api.list)
	purchases.POST("/verify", api.verify)
}

func registerPaymentAPI(g *echo.Group, secret string, svc *purchase.Service, validate *validator.Validate) {
	api := &purchaseAPI{
		service:  svc,
		validate: validate,
	}

	g.POST("/payments/webhook", api.webhook, webhookSecretMiddleware(secret))
}

func (api *purchaseAPI) create(ctx echo.Context) error {
	var data purchase.NewPurchase
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	if err := authorizeUser(ctx, data.UserID); err != nil {
		return err
	}

	res, err := api.service.Purchase(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "reconciling purchase")
	}
	return ctx.JSON(http.StatusOK, PurchaseResponse{
		Success:    true,
		PurchaseID: res.EntitlementID,
		Upgraded:   res.Upgraded,
	})
}

func (api *purchaseAPI) list(ctx echo.Context) error {
	userID, err := targetUser(ctx)
	if err != nil {
		return err
	}
	if err = authorizeUser(ctx, userID); err != nil {
		return err
	}

	ents, err := api.service.List(ctx.Request().Context(), userID)
	if err != nil {
		return errors.Wrap(err, "listing purchases")
	}
	return ctx.JSON(http.StatusOK, PurchaseListResponse{Purchases: ents})
}

func (api *purchaseAPI) verify(ctx echo.Context) error {
	var data purchase.VerifyPurchase
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	if err := authorizeUser(ctx, data.UserID); err != nil {
		return err
	}

	res, err := api.service.VerifyAndReconcile(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "verifying purchase")
	}
	return ctx.JSON(http.StatusOK, PurchaseResponse{
		Success:    true,
		PurchaseID: res.EntitlementID,
		Upgraded:   res.Upgraded,
		Pending:    res.Pending,
	})
}

func (api *purchaseAPI) webhook(ctx echo.Context) error {
	var data purchase.PaymentEvent
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.service.HandlePaymentEvent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "handling payment event")
	}
	resp := PurchaseResponse{Success: true}
	if res.Reconcile != nil {
		resp.PurchaseID = res.Reconcile.EntitlementID
		resp.Upgraded = res.Reconcile.Upgraded
	}
	return ctx.JSON(http.StatusOK, resp)
}

type (
	PurchaseResponse struct {
		Success    bool   `json:"success"`
		PurchaseID string `json:"purchaseId,omitempty"`
		Upgraded   bool   `json:"upgraded,omitempty"`
		Pending    bool   `json:"pending,omitempty"`
	}

	PurchaseListResponse struct {
		Purchases []purchase.Entitlement `json:"purchases"`
	}
)
