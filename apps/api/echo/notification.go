package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/notification"
)

type notificationAPI struct {
	service  *notification.Service
	validate *validator.Validate
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *notification.Service, validate *validator.Validate) {
	api := &notificationAPI{
		service:  svc,
		validate: validate,
	}

	notifs := g.Group("/notifications", jwt)
	notifs.POST("", api.dispatch)
	notifs.GET("", api.query)
	notifs.PATCH("/read-all", api.markAllRead)
	notifs.PATCH("/:id/read", api.markRead)
	notifs.DELETE("/:id", api.destroy)
}

// dispatch lets admins notify anyone; other users may only notify themselves.
func (api *notificationAPI) dispatch(ctx echo.Context) error {
	var data notification.NewNotification
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	if err := authorizeUser(ctx, data.Recipients()...); err != nil {
		return err
	}

	created, err := api.service.Dispatch(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "dispatching notification")
	}
	return ctx.JSON(http.StatusCreated, NotificationsCreatedResponse{
		Notifications: created,
		Count:         len(created),
	})
}

func (api *notificationAPI) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var q notificationQuery
	if err = q.Bind(ctx); err != nil {
		return err
	}

	notifs, unread, err := api.service.Query(ctx.Request().Context(), claims.Subject, q.QueryFilter)
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	return ctx.JSON(http.StatusOK, NotificationListResponse{
		Notifications: notifs,
		UnreadCount:   unread,
	})
}

func (api *notificationAPI) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if err = api.service.MarkRead(ctx.Request().Context(), claims.Subject, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "marking notification as read")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (api *notificationAPI) markAllRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if err = api.service.MarkAllRead(ctx.Request().Context(), claims.Subject); err != nil {
		return errors.Wrap(err, "marking all notifications as read")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (api *notificationAPI) destroy(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if err = api.service.Delete(ctx.Request().Context(), claims.Subject, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting notification")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true})
}

type (
	SuccessResponse struct {
		Success bool `json:"success"`
	}

	NotificationsCreatedResponse struct {
		Notifications []notification.Notification `json:"notifications"`
		Count         int                         `json:"count"`
	}

	NotificationListResponse struct {
		Notifications []notification.Notification `json:"notifications"`
		UnreadCount   int                         `json:"unreadCount"`
	}
)
