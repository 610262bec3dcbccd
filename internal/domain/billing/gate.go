package billing

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medflow/medflow/internal/platform/auth"
)

// RequireActiveSubscription rejects users without current paid access with
// 402. When enforce is false every request passes.
func RequireActiveSubscription(svc *Service, enforce bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !enforce {
			return next
		}
		return func(c echo.Context) error {
			userID, err := auth.UserIDFromContext(c.Request().Context())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			ok, err := svc.HasActiveAccess(c.Request().Context(), userID)
			if err != nil {
				svc.logger.Error().Err(err).Str("user_id", userID.String()).Msg("subscription check failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "subscription check failed")
			}
			if !ok {
				return echo.NewHTTPError(http.StatusPaymentRequired, ErrSubscriptionRequired.Error())
			}
			return next(c)
		}
	}
}
