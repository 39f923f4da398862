package patient

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/preop/preop/internal/platform/auth"
	"github.com/preop/preop/internal/platform/notification"
	"github.com/preop/preop/pkg/pagination"
)

type Handler struct {
	svc           *Service
	notifier      *notification.Service
	portalBaseURL string
}

func NewHandler(svc *Service, notifier *notification.Service, portalBaseURL string) *Handler {
	return &Handler{svc: svc, notifier: notifier, portalBaseURL: portalBaseURL}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleOwner, auth.RoleNurse))
	g.GET("/patients", h.ListPatients)
	g.GET("/patients/:id", h.GetPatient)
	g.POST("/patients", h.CreatePatient)
	g.PUT("/patients/:id", h.UpdatePatient)
	g.POST("/patients/:id/remind", h.SendReminder)

	// Roster import is owner-only.
	api.POST("/patients/import", h.ImportRoster, auth.RequireRole(auth.RoleOwner))
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)

	filter := ListFilter{Search: c.QueryParam("search")}
	if s := c.QueryParam("status"); s != "" {
		status, err := ParseStatus(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Status = status
	}

	patients, total, err := h.svc.ListPatients(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ImportRoster(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	result, err := h.svc.ImportRoster(c.Request().Context(), src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// SendReminder sends the appointment reminder SMS with the patient's
// portal link. Delivery is asynchronous; the endpoint confirms the
// request was accepted, not that the SMS arrived.
func (h *Handler) SendReminder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if p.Phone == nil || *p.Phone == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient has no phone number")
	}

	data := map[string]string{
		"patient_name": p.Name,
		"link":         fmt.Sprintf("%s/%s", h.portalBaseURL, p.Token),
	}
	if p.Procedure != nil {
		data["procedure"] = *p.Procedure
	}
	if p.ProcedureDate != nil {
		data["date"] = p.ProcedureDate.Format("02/01/2006")
	}
	h.notifier.SendTemplateAsync("appointment-reminder", data, *p.Phone)

	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}
