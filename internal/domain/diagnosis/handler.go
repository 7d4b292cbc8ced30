package diagnosis

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careflow/careflow/internal/platform/auth"
	"github.com/careflow/careflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patientGroup := api.Group("", auth.RequireRole("patient", "doctor"))
	patientGroup.POST("/diagnoses", h.Start)
	patientGroup.GET("/diagnoses", h.List)
	patientGroup.GET("/diagnoses/:id", h.Get)
	patientGroup.PUT("/diagnoses/:id/message", h.AppendMessage)
	patientGroup.PUT("/diagnoses/:id/complete", h.Complete)
	patientGroup.PUT("/diagnoses/:id/doctor", h.SelectDoctor)

	doctorGroup := api.Group("", auth.RequireRole("doctor"))
	doctorGroup.PUT("/diagnoses/:id/tests", h.UpdateTests)
	doctorGroup.PUT("/diagnoses/:id/approve", h.Approve)
}

func (h *Handler) Start(c echo.Context) error {
	var req struct {
		SymptomDescription string `json:"symptom_description"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Start(c.Request().Context(), actorID, req.SymptomDescription)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis id")
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) List(c echo.Context) error {
	patientID, err := actor(c)
	if err != nil {
		return err
	}
	if p := c.QueryParam("patient_id"); p != "" {
		patientID, err = uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
	}
	pag := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pag.Limit, pag.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pag.Limit, pag.Offset))
}

func (h *Handler) AppendMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis id")
	}
	var req struct {
		Message       string   `json:"message"`
		Attachments   []string `json:"attachments"`
		CorrelationID string   `json:"correlation_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	d, err := h.svc.AppendMessage(c.Request().Context(), id, actorID, req.Message, req.Attachments, req.CorrelationID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis id")
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Complete(c.Request().Context(), id, actorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type testsRequest struct {
	VersionID       int        `json:"version_id"`
	Tests           []TestEdit `json:"tests"`
	AdditionalTests []NewTest  `json:"additional_tests"`
	DoctorNotes     string     `json:"doctor_notes"`
}

func (h *Handler) UpdateTests(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis id")
	}
	var req testsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID, err := actor(c)
	if err != nil {
		return err
	}
	d, err := h.svc.UpdateTests(c.Request().Context(), id, doctorID, req.Tests, req.AdditionalTests, req.VersionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis id")
	}
	var req testsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID, err := actor(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Approve(c.Request().Context(), id, doctorID, req.Tests, req.AdditionalTests, req.DoctorNotes, req.VersionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SelectDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis id")
	}
	var req struct {
		DoctorID string `json:"doctor_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	d, err := h.svc.SelectDoctor(c.Request().Context(), id, actorID, doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func actor(c echo.Context) (uuid.UUID, error) {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		// Dev-mode identities are not UUIDs; derive a stable id from the name.
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID)), nil
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownTest):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrAlreadyConfirmed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
