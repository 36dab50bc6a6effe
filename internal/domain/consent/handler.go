package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthlock/healthlock/internal/domain/account"
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/profile-access/requests")
	doctor := auth.RequireRole(auth.RoleDoctor)
	patient := auth.RequireRole(auth.RolePatient)

	g.POST("", h.Create, doctor)
	g.GET("", h.ListForDoctor, doctor)
	g.GET("/patient", h.ListPending, patient)
	g.GET("/:id", h.Status, doctor)
	g.POST("/:id/approve", h.Approve, patient)
	g.POST("/:id/reject", h.Reject, patient)
}

type createdResponse struct {
	RequestID   uuid.UUID `json:"requestId"`
	Status      Status    `json:"status"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ApprovalURL string    `json:"approvalUrl"`
}

type doctorSummary struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Specialization string    `json:"specialization"`
}

type pendingResponse struct {
	RequestID uuid.UUID      `json:"requestId"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Doctor    *doctorSummary `json:"doctor"`
	RecordID  uuid.UUID      `json:"recordId"`
}

type decisionResponse struct {
	RequestID   uuid.UUID  `json:"requestId"`
	Status      Status     `json:"status"`
	ApprovedAt  *time.Time `json:"approvedAt"`
	RespondedAt *time.Time `json:"respondedAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

type statusResponse struct {
	RequestID  uuid.UUID            `json:"requestId"`
	Status     Status               `json:"status"`
	CreatedAt  time.Time            `json:"createdAt"`
	ExpiresAt  time.Time            `json:"expiresAt"`
	ApprovedAt *time.Time           `json:"approvedAt"`
	Profile    *account.PatientView `json:"profile"`
}

func decision(r *Request) decisionResponse {
	return decisionResponse{
		RequestID:   r.ID,
		Status:      r.Status,
		ApprovedAt:  r.ApprovedAt,
		RespondedAt: r.RespondedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func requestParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, notFound()
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.WithCode(apperr.KindValidation, "INVALID_REQUEST_PAYLOAD", "Invalid request body")
	}
	req, err := h.svc.Create(c.Request().Context(), id.AccountID, in)
	if err != nil {
		return err
	}
	return response.Created(c, createdResponse{
		RequestID:   req.ID,
		Status:      req.Status,
		ExpiresAt:   req.ExpiresAt,
		ApprovalURL: h.svc.ApprovalURL(req.ID),
	})
}

func (h *Handler) ListPending(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPendingForPatient(c.Request().Context(), id.AccountID)
	if err != nil {
		return err
	}
	out := make([]pendingResponse, 0, len(items))
	for _, it := range items {
		pr := pendingResponse{
			RequestID: it.Request.ID,
			Status:    it.Request.Status,
			CreatedAt: it.Request.CreatedAt,
			ExpiresAt: it.Request.ExpiresAt,
			RecordID:  it.Request.RecordID,
		}
		if it.Doctor != nil {
			pr.Doctor = &doctorSummary{
				ID:             it.Doctor.ID,
				Name:           it.Doctor.Name,
				Email:          it.Doctor.Email,
				Specialization: it.Doctor.Specialization,
			}
		}
		out = append(out, pr)
	}
	return response.OK(c, out)
}

func (h *Handler) Approve(c echo.Context) error {
	return h.decide(c, h.svc.Approve)
}

func (h *Handler) Reject(c echo.Context) error {
	return h.decide(c, h.svc.Reject)
}

func (h *Handler) decide(c echo.Context, fn func(ctx context.Context, patientID, requestID uuid.UUID) (*Request, error)) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	requestID, err := requestParam(c)
	if err != nil {
		return err
	}
	req, err := fn(c.Request().Context(), id.AccountID, requestID)
	if err != nil {
		return err
	}
	return response.OK(c, decision(req))
}

func (h *Handler) Status(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	requestID, err := requestParam(c)
	if err != nil {
		return err
	}
	st, err := h.svc.StatusForDoctor(c.Request().Context(), id.AccountID, requestID)
	if err != nil {
		return err
	}
	return response.OK(c, statusResponse{
		RequestID:  st.Request.ID,
		Status:     st.Request.Status,
		CreatedAt:  st.Request.CreatedAt,
		ExpiresAt:  st.Request.ExpiresAt,
		ApprovedAt: st.Request.ApprovedAt,
		Profile:    st.Profile,
	})
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForDoctor(c.Request().Context(), id.AccountID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, pagination.NewResponse(items, total, pg))
}
