package workflow

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterPortalRoutes(portal *echo.Group) {
	portal.GET("/current-step", h.CurrentStep)
	portal.POST("/validate", h.Validate)
	portal.POST("/steps/data-consent", h.AcceptDataConsent)
	portal.POST("/chat", h.Converse)
	portal.POST("/steps/chat/complete", h.CompleteChat)
	portal.POST("/steps/recommendations/ack", h.AcknowledgeRecommendations)
	portal.POST("/steps/consent", h.SignConsent)
	portal.POST("/steps/finish", h.Finish)
}

// stepError maps workflow failures onto HTTP statuses: policy denials are
// 409 with the denial reason, a bad token is 404.
func stepError(err error) error {
	var invalid *InvalidTransitionError
	var notReady *ContentNotReadyError
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusConflict, invalid.Error())
	case errors.As(err, &notReady):
		return echo.NewHTTPError(http.StatusConflict, notReady.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CurrentStep(c echo.Context) error {
	step, err := h.svc.CurrentStep(c.Request().Context(), c.Param("token"))
	if err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"current_step": string(step)})
}

func (h *Handler) Validate(c echo.Context) error {
	var req struct {
		Step string `json:"step"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target, err := ParseStep(req.Step)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dec, err := h.svc.Validate(c.Request().Context(), c.Param("token"), target)
	if err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, dec)
}

func (h *Handler) AcceptDataConsent(c echo.Context) error {
	if err := h.svc.AcceptDataConsent(c.Request().Context(), c.Param("token")); err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) Converse(c echo.Context) error {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	reply, err := h.svc.Converse(c.Request().Context(), c.Param("token"), req.Message)
	if err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

func (h *Handler) CompleteChat(c echo.Context) error {
	if err := h.svc.CompleteChat(c.Request().Context(), c.Param("token")); err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) AcknowledgeRecommendations(c echo.Context) error {
	if err := h.svc.AcknowledgeRecommendations(c.Request().Context(), c.Param("token")); err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) SignConsent(c echo.Context) error {
	var req struct {
		Signature string `json:"signature"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Signature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "signature is required")
	}
	if err := h.svc.SignConsent(c.Request().Context(), c.Param("token"), req.Signature); err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) Finish(c echo.Context) error {
	if err := h.svc.Finish(c.Request().Context(), c.Param("token")); err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}
