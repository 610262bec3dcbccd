package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medflow/medflow/internal/platform/auth"
	"github.com/medflow/medflow/internal/platform/intasend"
	"github.com/medflow/medflow/pkg/pagination"
)

// Handler provides HTTP endpoints for checkout, subscriptions and payment callbacks.
type Handler struct {
	svc        *Service
	reconciler *Reconciler
}

// NewHandler creates a new billing handler.
func NewHandler(svc *Service, reconciler *Reconciler) *Handler {
	return &Handler{svc: svc, reconciler: reconciler}
}

// RegisterRoutes registers the authenticated endpoints on api.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/payments/checkout", h.CreateCheckout)
	api.GET("/subscription", h.GetSubscription)

	admin := api.Group("/admin", auth.RequireRole("admin"))
	admin.GET("/payment-webhooks", h.ListWebhookLogs)
}

// RegisterWebhookRoutes registers the provider callback, which authenticates by
// signature instead of a bearer token.
func (h *Handler) RegisterWebhookRoutes(g *echo.Group) {
	g.POST("/intasend", h.HandleIntaSendWebhook)
}

func (h *Handler) HandleIntaSendWebhook(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	result, err := h.reconciler.HandleWebhook(c.Request().Context(), raw, c.Request().Header.Get(intasend.SignatureHeader))
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	case errors.Is(err, ErrAuthentication):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process webhook")
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) CreateCheckout(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" {
		req.Email = auth.EmailFromContext(c.Request().Context())
	}

	session, err := h.svc.CreateCheckout(c.Request().Context(), userID, req)
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCheckoutUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "payment provider unavailable")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create checkout")
	}
	return c.JSON(http.StatusCreated, session)
}

func (h *Handler) GetSubscription(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	sub, err := h.svc.CurrentSubscription(c.Request().Context(), userID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no subscription")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"subscription": sub,
		"has_access":   sub.GrantsAccess(h.svc.now()),
	})
}

func (h *Handler) ListWebhookLogs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListWebhookLogs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
