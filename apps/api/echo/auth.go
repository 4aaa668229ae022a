package echoapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/campuskit/portal/core"
	"github.com/campuskit/portal/core/identity"
)

const (
	sessionCookieName = "token"
	contextClaimsKey  = "claims"
)

// Claims represents the session facts transmitted via a signed JWT. Status is
// cached from issuance time; a status change takes effect on re-issuance, so
// the token lifetime is kept short.
type Claims struct {
	jwt.StandardClaims
	Name   string          `json:"name,omitempty"`
	Email  string          `json:"email,omitempty"`
	USN    string          `json:"usn,omitempty"`
	Role   identity.Role   `json:"role,omitempty"`
	Status identity.Status `json:"status,omitempty"`
}

// sessionManager issues and verifies stateless session tokens.
type sessionManager struct {
	appName         string
	secretKey       []byte
	expirationDelta time.Duration
}

func newSessionManager(conf *core.Config) *sessionManager {
	return &sessionManager{
		appName:         conf.AppName,
		secretKey:       conf.SecretKey,
		expirationDelta: conf.Server.JWTExpirationDelta,
	}
}

// Claims builds issue-time claims for an authenticated Identity. No password
// material ever enters the claims.
func (sm *sessionManager) Claims(idt identity.Identity) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    sm.appName,
			Subject:   idt.ID,
			ExpiresAt: now.Add(sm.expirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Name:   idt.Name,
		Email:  idt.Email,
		USN:    idt.USN,
		Role:   idt.Role,
		Status: idt.Status,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func (sm *sessionManager) GenerateToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(sm.secretKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// VerifyToken parses a token string and returns its Claims; any tampering,
// expiry or algorithm mismatch fails verification.
func (sm *sessionManager) VerifyToken(tokenStr string) (*Claims, error) {
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return sm.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// claimsFromRequest extracts and verifies the session token from the `token`
// cookie or the Authorization header. A missing or invalid token yields nil
// claims, never an error response: the route guard decides what to do.
func (sm *sessionManager) claimsFromRequest(ctx echo.Context) *Claims {
	var tokenStr string
	if cookie, err := ctx.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		tokenStr = cookie.Value
	} else if auth := ctx.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		tokenStr = strings.TrimPrefix(auth, "Bearer ")
	}
	if tokenStr == "" {
		return nil
	}
	claims, err := sm.VerifyToken(tokenStr)
	if err != nil {
		return nil
	}
	return claims
}

func (sm *sessionManager) setSessionCookie(ctx echo.Context, token string) {
	ctx.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(sm.expirationDelta),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*Claims); ok {
		return *claims, nil
	}
	return Claims{}, errUnauthorized
}
