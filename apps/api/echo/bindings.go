package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/notification"
)

var (
	limitParam      = "limit"
	unreadOnlyParam = "unreadOnly"
	userIDParam     = "userId"
)

// notificationQuery binds `?limit=&unreadOnly=`. Out of range limits are clamped by the service.
type notificationQuery struct {
	notification.QueryFilter
}

func (q *notificationQuery) Bind(ctx echo.Context) error {
	if val := ctx.QueryParam(limitParam); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: limitParam, Error: "limit must be an integer"})
		}
		q.Limit = limit
	}
	if val := ctx.QueryParam(unreadOnlyParam); val != "" {
		unread, err := strconv.ParseBool(val)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: unreadOnlyParam, Error: "unreadOnly must be a boolean"})
		}
		q.UnreadOnly = unread
	}
	return nil
}

// targetUser returns `?userId=`, defaulting to the caller.
func targetUser(ctx echo.Context) (string, error) {
	if id := core.CleanString(ctx.QueryParam(userIDParam)); id != "" {
		return id, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
