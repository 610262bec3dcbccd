package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserEmailKey contextKey = "user_email"
	UserRolesKey contextKey = "user_roles"
)

// EchoUserIDKey mirrors the user id into the echo context for the request
// logger and rate limiter.
const EchoUserIDKey = "user_id"

// DevUserID is the identity every unauthenticated request gets in development.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// ErrNoUser is returned when the request carries no usable identity.
var ErrNoUser = errors.New("no authenticated user")

// Claims are the identity provider's token claims. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification instead of JWKS.
	SigningKey []byte
}

// JWTMiddleware verifies the bearer token and stores the caller's identity in
// the request context. The subject must be a UUID.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var (
		methods = []string{"RS256"}
		keys    *keySet
	)
	if len(cfg.SigningKey) > 0 {
		methods = []string{"HS256"}
	} else {
		keys = newKeySet(cfg.JWKSURL, nil)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			ctx := c.Request().Context()
			keyFunc := func(t *jwt.Token) (interface{}, error) {
				if keys == nil {
					return cfg.SigningKey, nil
				}
				kid, _ := t.Header["kid"].(string)
				if kid == "" {
					return nil, fmt.Errorf("token has no kid header")
				}
				return keys.key(ctx, kid)
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			uid, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}

			setIdentity(c, uid, claims.Email, claims.Roles)
			return next(c)
		}
	}
}

// DevAuthMiddleware serves requests without an Authorization header as the
// dev user with the admin role. Requests that do carry a token go through
// verify when it is non-nil.
func DevAuthMiddleware(verify echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if verify != nil {
			verified = verify(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return verified(c)
			}
			setIdentity(c, DevUserID, "dev@medflow.local", []string{"admin"})
			return next(c)
		}
	}
}

func setIdentity(c echo.Context, uid uuid.UUID, email string, roles []string) {
	c.Set(EchoUserIDKey, uid.String())

	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, uid)
	ctx = context.WithValue(ctx, UserEmailKey, email)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

// WithUser returns ctx carrying uid, for tests and background work.
func WithUser(ctx context.Context, uid uuid.UUID, roles ...string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, uid)
	return context.WithValue(ctx, UserRolesKey, roles)
}

// UserIDFromContext returns the authenticated user id or ErrNoUser.
func UserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	uid, ok := ctx.Value(UserIDKey).(uuid.UUID)
	if !ok || uid == uuid.Nil {
		return uuid.Nil, ErrNoUser
	}
	return uid, nil
}

func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
