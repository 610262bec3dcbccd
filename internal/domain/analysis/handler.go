package analysis

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medflow/medflow/internal/domain/patient"
	"github.com/medflow/medflow/internal/platform/auth"
	"github.com/medflow/medflow/internal/platform/quota"
)

// Handler provides HTTP endpoints for analyses.
type Handler struct {
	svc  *Service
	gate echo.MiddlewareFunc
}

// NewHandler creates a new analysis handler. gate guards the routes that call
// the completion service; nil leaves them open.
func NewHandler(svc *Service, gate echo.MiddlewareFunc) *Handler {
	return &Handler{svc: svc, gate: gate}
}

// RegisterRoutes registers the analysis endpoints on api.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	var gated []echo.MiddlewareFunc
	if h.gate != nil {
		gated = append(gated, h.gate)
	}
	api.POST("/patients/:id/analyze", h.AnalyzePatient, gated...)
	api.POST("/patients/:id/daily-note", h.AddDailyNote, gated...)
	api.GET("/patients/:id/timeline", h.GetTimeline)
	api.GET("/analyses/:id", h.GetAnalysis)
	api.PATCH("/analyses/:id/todos", h.ToggleTodo)
	api.POST("/analyses/:id/regenerate", h.RegenerateAnalysis, gated...)
	api.GET("/dashboard/stats", h.GetStats)
}

func errorResponse(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient history not found")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, quota.ErrQuotaExceeded):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrGeneration):
		return echo.NewHTTPError(http.StatusBadGateway, "failed to generate analysis")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func userAndID(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	userID, err := auth.UserIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return userID, id, nil
}

func (h *Handler) AnalyzePatient(c echo.Context) error {
	userID, id, err := userAndID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.AnalyzeAdmission(c.Request().Context(), userID, id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) AddDailyNote(c echo.Context) error {
	userID, id, err := userAndID(c)
	if err != nil {
		return err
	}
	var req DailyNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.AddDailyNote(c.Request().Context(), userID, id, req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetTimeline(c echo.Context) error {
	userID, id, err := userAndID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Timeline(c.Request().Context(), userID, id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetAnalysis(c echo.Context) error {
	userID, id, err := userAndID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), userID, id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ToggleTodo(c echo.Context) error {
	userID, id, err := userAndID(c)
	if err != nil {
		return err
	}
	var req ToggleTodoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.ToggleTodo(c.Request().Context(), userID, id, req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RegenerateAnalysis(c echo.Context) error {
	userID, id, err := userAndID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Regenerate(c.Request().Context(), userID, id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetStats(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	st, err := h.svc.Stats(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, st)
}
