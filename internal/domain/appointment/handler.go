package appointment

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
	readGroup := api.Group("", auth.RequireRole("patient", "doctor"))
	readGroup.GET("/doctors/appointments", h.List)
	readGroup.GET("/doctors/appointments/:id", h.Get)
	readGroup.PATCH("/doctors/appointments/:id/cancel", h.Cancel)

	doctorGroup := api.Group("", auth.RequireRole("doctor"))
	doctorGroup.POST("/doctors/appointments", h.Create)
	doctorGroup.PUT("/doctors/appointments/:id", h.Update)
	doctorGroup.POST("/doctors/appointments/:id/complete", h.Complete)
	doctorGroup.POST("/doctors/appointments/:id/no-show", h.MarkNoShow)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Create(c.Request().Context(), actorID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := apptID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	pag := pagination.FromContext(c)
	ctx := c.Request().Context()

	if p := c.QueryParam("patient_id"); p != "" {
		patientID, err := uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListByPatient(ctx, patientID, pag.Limit, pag.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pag.Limit, pag.Offset))
	}

	doctorID, err := actor(c)
	if err != nil {
		return err
	}
	if p := c.QueryParam("doctor_id"); p != "" {
		doctorID, err = uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
	}
	items, total, err := h.svc.ListByDoctor(ctx, doctorID, pag.Limit, pag.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pag.Limit, pag.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := apptID(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Update(c.Request().Context(), id, actorID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := apptID(c)
	if err != nil {
		return err
	}
	var req struct {
		CancelReason string `json:"cancel_reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, actorID, req.CancelReason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := apptID(c)
	if err != nil {
		return err
	}
	var req struct {
		Notes    string `json:"notes"`
		FollowUp bool   `json:"follow_up"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Complete(c.Request().Context(), id, actorID, req.Notes, req.FollowUp)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	id, err := apptID(c)
	if err != nil {
		return err
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.MarkNoShow(c.Request().Context(), id, actorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func apptID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	return id, nil
}

func actor(c echo.Context) (uuid.UUID, error) {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
	}
	id, err := uuid.Parse(userID)
	if err != nil {
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
	case errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
