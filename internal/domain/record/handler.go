package record

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthlock/healthlock/internal/platform/apperr"
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

// RegisterRoutes mounts the record routes. limit guards the token-gated
// fetch and may be nil.
func (h *Handler) RegisterRoutes(api *echo.Group, limit echo.MiddlewareFunc) {
	p := api.Group("/patient/records", auth.RequireRole(auth.RolePatient))
	p.POST("", h.Upload)
	p.GET("", h.List)
	p.GET("/:id", h.Get)
	p.POST("/:id/qr", h.ReissueQR)
	p.DELETE("/:id", h.Delete)

	var guarded []echo.MiddlewareFunc
	if limit != nil {
		guarded = append(guarded, limit)
	}
	api.GET("/records/:id", h.Open, guarded...)
}

func recordParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, recordNotFound()
	}
	return id, nil
}

func (h *Handler) Upload(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	var req UploadInput
	if err := c.Bind(&req); err != nil {
		return apperr.WithCode(apperr.KindValidation, "INVALID_UPLOAD_PAYLOAD", "Invalid request body")
	}
	grant, err := h.svc.Upload(c.Request().Context(), id.AccountID, req)
	if err != nil {
		return err
	}
	return response.Created(c, grant)
}

func (h *Handler) List(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), id.AccountID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	recordID, err := recordParam(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetForPatient(c.Request().Context(), id.AccountID, recordID)
	if err != nil {
		return err
	}
	return response.OK(c, rec)
}

func (h *Handler) ReissueQR(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	recordID, err := recordParam(c)
	if err != nil {
		return err
	}
	grant, err := h.svc.ReissueQR(c.Request().Context(), id.AccountID, recordID)
	if err != nil {
		return err
	}
	return response.OK(c, grant)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	recordID, err := recordParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id.AccountID, recordID); err != nil {
		return err
	}
	return response.OK(c, map[string]string{"recordId": recordID.String()})
}

// Open serves a record to whoever holds a valid token. A session is optional
// and only attributes the view to a doctor.
func (h *Handler) Open(c echo.Context) error {
	in := OpenInput{
		RecordID:  c.Param("id"),
		Token:     c.QueryParam("token"),
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
	if id, ok := auth.IdentityFromContext(c.Request().Context()); ok {
		in.Viewer = &id
	}
	view, err := h.svc.Open(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return response.OK(c, view)
}
