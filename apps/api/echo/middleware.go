package echoapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths are reachable without a session: login and the registration
// entry points. Everything else is protected.
var publicPaths = map[string]bool{
	"/":                 true,
	"/login":            true,
	"/register":         true,
	"/register/student": true,
	"/register/hod":     true,
}

// dashboardPath is the shared landing entry point; signed-in callers are
// forwarded to their own subtree from here.
const dashboardPath = "/dashboard"

// routeGuard enforces per-role route isolation on every request, ahead of any
// handler:
//
//  1. no valid session + protected path   -> /login
//  2. valid session + public path         -> own subtree root
//  3. valid session + foreign path        -> own subtree root
//  4. valid session + own subtree         -> pass through
//
// A session with role R can therefore only ever be served content whose path
// is prefixed by R's subtree root.
func (s *server) routeGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		path := ctx.Request().URL.Path

		claims := s.session.claimsFromRequest(ctx)
		if claims == nil {
			if publicPaths[path] {
				return next(ctx)
			}
			return ctx.Redirect(http.StatusFound, "/login")
		}

		home := claims.Role.HomePath()
		if home == "" {
			// the role set is closed; an unmapped role means a forged or
			// corrupted token
			s.deps.Logger.Error(fmt.Sprintf("session %s carries unmapped role %q", claims.Subject, claims.Role))
			clearSessionCookie(ctx)
			return ctx.Redirect(http.StatusFound, "/login")
		}

		if publicPaths[path] || path == dashboardPath {
			return ctx.Redirect(http.StatusFound, home)
		}
		if path != home && !strings.HasPrefix(path, home+"/") {
			return ctx.Redirect(http.StatusFound, home)
		}

		ctx.Set(contextClaimsKey, claims)
		return next(ctx)
	}
}
