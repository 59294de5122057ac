package inbox

import (
	"github.com/labstack/echo/v4"

	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/pkg/pagination"
	"github.com/heartflow/clinic/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the caller's own inbox. Every authenticated role has one.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.GET("/notifications/unread-count", h.UnreadCount)
	api.POST("/notifications/read-all", h.ReadAll)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	uid, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return apperror.Unauthorized("authentication required")
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, uid, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	ctx := c.Request().Context()
	uid, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return apperror.Unauthorized("authentication required")
	}
	n, err := h.svc.UnreadCount(ctx, uid)
	if err != nil {
		return err
	}
	return response.OK(c, "", map[string]int{"unread": n})
}

func (h *Handler) ReadAll(c echo.Context) error {
	ctx := c.Request().Context()
	uid, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return apperror.Unauthorized("authentication required")
	}
	n, err := h.svc.MarkAllRead(ctx, uid)
	if err != nil {
		return err
	}
	return response.OK(c, "Notifications marked as read", map[string]int64{"updated": n})
}
