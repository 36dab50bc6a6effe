package account

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthlock/healthlock/internal/platform/apperr"
	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/response"
)

type Handler struct {
	svc     *Service
	tokens  *auth.TokenService
	cookies auth.CookiePolicy
}

func NewHandler(svc *Service, tokens *auth.TokenService, cookies auth.CookiePolicy) *Handler {
	return &Handler{svc: svc, tokens: tokens, cookies: cookies}
}

// RegisterRoutes mounts the auth routes. limit guards the credential
// endpoints and may be nil.
func (h *Handler) RegisterRoutes(api *echo.Group, limit echo.MiddlewareFunc) {
	var guarded []echo.MiddlewareFunc
	if limit != nil {
		guarded = append(guarded, limit)
	}

	g := api.Group("/auth")
	g.POST("/signup", h.Signup, guarded...)
	g.POST("/signin", h.Signin, guarded...)
	g.GET("/session", h.Session)
	g.POST("/logout", h.Logout)
	g.GET("/me", h.GetMe, auth.RequireAuth())
	g.PUT("/me", h.UpdateMe, auth.RequireAuth())

	api.POST("/patient/health-profile", h.UpdateHealthProfile, auth.RequireRole(auth.RolePatient))
}

type signinRequest struct {
	SigninInput
	RememberMe bool `json:"rememberMe"`
}

type authUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type authResponse struct {
	Role        auth.Role `json:"role"`
	RedirectURL string    `json:"redirectUrl"`
	User        authUser  `json:"user"`
}

func (h *Handler) startSession(c echo.Context, a Account, rememberMe bool) (*authResponse, error) {
	b := a.Common()
	issued, err := h.tokens.IssueSession(b.ID.String(), a.Role(), rememberMe)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	c.SetCookie(h.cookies.SessionCookie(issued))
	return &authResponse{
		Role:        a.Role(),
		RedirectURL: RedirectPath(a.Role()),
		User:        authUser{ID: b.ID.String(), Name: b.Name, Email: b.Email},
	}, nil
}

func (h *Handler) Signup(c echo.Context) error {
	var req SignupInput
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.KindValidation, "Invalid request body")
	}
	a, err := h.svc.Signup(c.Request().Context(), req)
	if err != nil {
		return err
	}
	// Signup sessions are never persistent.
	resp, err := h.startSession(c, a, false)
	if err != nil {
		return err
	}
	return response.Created(c, resp)
}

func (h *Handler) Signin(c echo.Context) error {
	var req signinRequest
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.KindValidation, "Invalid request body")
	}
	client := ClientInfo{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
	a, err := h.svc.Signin(c.Request().Context(), req.SigninInput, client)
	if err != nil {
		return err
	}
	resp, err := h.startSession(c, a, req.RememberMe)
	if err != nil {
		return err
	}
	return response.OK(c, resp)
}

type sessionResponse struct {
	UserID string    `json:"userId"`
	Role   auth.Role `json:"role"`
}

func (h *Handler) Session(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return apperr.New(apperr.KindAuthRequired, "Not authenticated")
	}
	return response.OK(c, sessionResponse{UserID: id.AccountID.String(), Role: id.Role})
}

func (h *Handler) Logout(c echo.Context) error {
	c.SetCookie(h.cookies.ClearCookie())
	return c.JSON(http.StatusOK, response.Envelope{Success: true})
}

func (h *Handler) GetMe(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id.AccountID)
	if err != nil {
		return err
	}
	return response.OK(c, a.Profile())
}

func (h *Handler) UpdateMe(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	var in ProfileUpdate
	if err := c.Bind(&in); err != nil {
		return apperr.New(apperr.KindValidation, "Invalid request body")
	}
	a, err := h.svc.UpdateProfile(c.Request().Context(), id.AccountID, in)
	if err != nil {
		return err
	}
	return response.OK(c, a.Profile())
}

func (h *Handler) UpdateHealthProfile(c echo.Context) error {
	id, err := auth.CallerIdentity(c)
	if err != nil {
		return err
	}
	var in HealthProfileInput
	if err := c.Bind(&in); err != nil {
		return apperr.New(apperr.KindValidation, "Invalid request body")
	}
	hp, err := h.svc.UpdateHealthProfile(c.Request().Context(), id.AccountID, in)
	if err != nil {
		return err
	}
	return response.OK(c, hp)
}
