package evaluation

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/preop/preop/internal/domain/patient"
)

// Handler serves the patient portal's read and intake endpoints. All
// routes hang off the token group; the token is the only credential.
type Handler struct {
	svc      *Service
	patients *patient.Service
}

func NewHandler(svc *Service, patients *patient.Service) *Handler {
	return &Handler{svc: svc, patients: patients}
}

func (h *Handler) RegisterPortalRoutes(portal *echo.Group) {
	portal.GET("/conversation", h.GetConversation)
	portal.GET("/recommendations", h.GetRecommendations)
	portal.GET("/consents", h.GetConsents)
	portal.GET("/intake", h.GetIntake)
	portal.PUT("/intake", h.SaveIntake)
}

func (h *Handler) resolve(c echo.Context) (*patient.Patient, error) {
	p, err := h.patients.GetByToken(c.Request().Context(), c.Param("token"))
	if errors.Is(err, patient.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return p, nil
}

func (h *Handler) GetConversation(c echo.Context) error {
	p, err := h.resolve(c)
	if err != nil {
		return err
	}
	msgs, err := h.svc.ListConversation(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		msgs = []*ConversationMessage{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *Handler) GetRecommendations(c echo.Context) error {
	p, err := h.resolve(c)
	if err != nil {
		return err
	}
	recs, err := h.svc.ListRecommendations(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if recs == nil {
		recs = []*Recommendation{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *Handler) GetConsents(c echo.Context) error {
	p, err := h.resolve(c)
	if err != nil {
		return err
	}
	consents, err := h.svc.GetConsents(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if consents == nil {
		consents = []*ConsentRecord{}
	}
	return c.JSON(http.StatusOK, consents)
}

func (h *Handler) GetIntake(c echo.Context) error {
	p, err := h.resolve(c)
	if err != nil {
		return err
	}
	ir, err := h.svc.GetIntake(c.Request().Context(), p.ID)
	if errors.Is(err, ErrIntakeNotFound) {
		return c.JSON(http.StatusOK, &IntakeResponse{PatientID: p.ID})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ir)
}

func (h *Handler) SaveIntake(c echo.Context) error {
	p, err := h.resolve(c)
	if err != nil {
		return err
	}
	var ir IntakeResponse
	if err := c.Bind(&ir); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ir.PatientID = p.ID
	if err := h.svc.SaveIntake(c.Request().Context(), &ir); err != nil {
		if errors.Is(err, ErrEvaluationFrozen) {
			return echo.NewHTTPError(http.StatusConflict, "la evaluación ya ha finalizado")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, ir)
}
