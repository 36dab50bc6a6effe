package accesslog

import (
	"github.com/labstack/echo/v4"

	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/response"
	"github.com/healthlock/healthlock/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/logs/me", h.ListMine, auth.RequireRole(auth.RolePatient))
}

func (h *Handler) ListMine(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(c.Request().Context(), id.AccountID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, pagination.NewResponse(items, total, pg))
}
