package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/campuskit/portal/core"
	"github.com/campuskit/portal/core/identity"
)

type identityApi struct {
	svc     identity.Service
	session *sessionManager
	deps    *ServerDeps
}

func registerIdentityAPI(app *echo.Echo, session *sessionManager, deps *ServerDeps) {
	api := identityApi{
		svc:     deps.IdentitySvc,
		session: session,
		deps:    deps,
	}

	// public entry points
	app.GET("/", api.home)
	app.POST("/login", api.login)
	app.POST("/register/student", api.registerStudent)
	app.POST("/register/hod", api.registerHod)

	// shared landing; the route guard forwards signed-in callers home
	app.GET(dashboardPath, api.dashboard)

	// per-role subtrees; the route guard has already verified the session
	// role owns the subtree before any of these run
	app.GET("/student", api.landing)
	app.GET("/faculty", api.landing)
	app.GET("/admin", api.landing)
	app.POST("/admin/faculty", api.addFaculty)
	app.GET("/superadmin", api.landing)
	app.GET("/superadmin/approvals", api.pendingApprovals)
	app.POST("/superadmin/approvals/:id/approve", api.approveHod)
	app.POST("/superadmin/approvals/:id/reject", api.rejectHod)
}

// Handlers

func (api *identityApi) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the "+api.deps.Conf.AppName+" portal!")
}

func (api *identityApi) dashboard(ctx echo.Context) error {
	// unreachable past the route guard; kept so the route exists
	return ctx.Redirect(http.StatusFound, "/login")
}

func (api *identityApi) landing(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"name":   claims.Name,
		"role":   claims.Role,
		"status": claims.Status,
		"home":   claims.Role.HomePath(),
	})
}

func (api *identityApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.deps); err != nil {
		return err
	}

	idt, err := api.svc.Authenticate(ctx.Request().Context(), data.Identifier, data.Password)
	if err != nil {
		switch cause := errors.Cause(err); cause {
		case identity.ErrNotFound, identity.ErrInvalidCredentials:
			// collapsed on purpose: the caller never learns whether the
			// identifier exists
			return errAuthenticationFailed
		default:
			if _, ok := cause.(identity.NotApprovedError); ok {
				return err
			}
			return errors.Wrap(err, "authenticating")
		}
	}

	claims := api.session.Claims(idt)
	token, err := api.session.GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	api.session.setSessionCookie(ctx, token)

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, Home: idt.Role.HomePath()})
}

func (api *identityApi) registerStudent(ctx echo.Context) error {
	var data identity.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(ctx.Request().Context(), api.deps.Validate, api.svc); err != nil {
		return err
	}

	if _, err := api.svc.RegisterStudent(ctx.Request().Context(), data); err != nil {
		return registrationConflictOr(err, "registering student")
	}
	return ctx.JSON(http.StatusCreated, SuccessResponse{Success: true})
}

func (api *identityApi) registerHod(ctx echo.Context) error {
	var data identity.NewHod
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewHod")
	}
	if err := data.Validate(ctx.Request().Context(), api.deps.Validate, api.svc); err != nil {
		return err
	}

	if _, err := api.svc.RegisterHod(ctx.Request().Context(), data); err != nil {
		return registrationConflictOr(err, "registering hod")
	}
	return ctx.JSON(http.StatusCreated, SuccessResponse{Success: true})
}

func (api *identityApi) addFaculty(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	actor, err := api.svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "finding acting account")
	}

	var data identity.NewFaculty
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFaculty")
	}
	if err := data.Validate(ctx.Request().Context(), api.deps.Validate, api.svc); err != nil {
		return err
	}

	if _, err := api.svc.AddFaculty(ctx.Request().Context(), actor, data); err != nil {
		return registrationConflictOr(err, "adding faculty")
	}
	return ctx.JSON(http.StatusCreated, SuccessResponse{Success: true})
}

func (api *identityApi) pendingApprovals(ctx echo.Context) error {
	pending, err := api.svc.PendingHods(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying pending applications")
	}
	if pending == nil {
		pending = []identity.Identity{}
	}
	return ctx.JSON(http.StatusOK, pending)
}

func (api *identityApi) approveHod(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Approve)
}

func (api *identityApi) rejectHod(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Reject)
}

func (api *identityApi) transition(
	ctx echo.Context,
	op func(c context.Context, actor identity.Role, id string) (identity.Identity, error),
) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if _, err := op(ctx.Request().Context(), claims.Role, ctx.Param("id")); err != nil {
		switch errors.Cause(err) {
		case identity.ErrPermissionDenied, identity.ErrNotFound, identity.ErrStatusFinal:
			return err
		}
		return errors.Wrap(err, "applying transition")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// registrationConflictOr maps store-level uniqueness races to the same field
// errors the pre-check produces; anything else is wrapped as-is.
func registrationConflictOr(err error, msg string) error {
	switch errors.Cause(err) {
	case identity.ErrUSNExists:
		return core.NewValidationError(err, core.FieldError{Field: "usn", Error: err.Error()})
	case identity.ErrEmailExists:
		return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
	}
	return errors.Wrap(err, msg)
}

type (
	LoginRequest struct {
		Identifier string `json:"identifier" validate:"required"`
		Password   string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
		Home  string `json:"home"`
	}

	SuccessResponse struct {
		Success bool `json:"success"`
	}
)

func (lr *LoginRequest) Validate(deps *ServerDeps) error {
	lr.Identifier = core.CleanString(lr.Identifier)
	return deps.Validate.Struct(lr)
}
