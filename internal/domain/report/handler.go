package report

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careflow/careflow/internal/platform/auth"
	"github.com/careflow/careflow/internal/platform/blobstore"
	"github.com/careflow/careflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	group := api.Group("", auth.RequireRole("patient", "doctor"))
	group.POST("/reports", h.Upload)
	group.GET("/reports", h.List)
	group.GET("/reports/:id", h.Get)
	group.POST("/reports/:id/analyze", h.RequestAnalysis)
	group.POST("/reports/:id/analyze/cancel", h.CancelAnalysis)
	group.GET("/files/:id", h.ServeFile)

	doctorGroup := api.Group("", auth.RequireRole("doctor"))
	doctorGroup.PUT("/reports/:id/notes", h.Review)
}

// Upload accepts a multipart form with a "file" part and metadata fields.
func (h *Handler) Upload(c echo.Context) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer file.Close()

	in := UploadInput{
		PatientID: actorID,
		Name:      c.FormValue("name"),
		Type:      c.FormValue("type"),
		MimeType:  c.FormValue("mime_type"),
	}
	if in.Name == "" {
		in.Name = fileHeader.Filename
	}
	if in.MimeType == "" {
		in.MimeType = fileHeader.Header.Get("Content-Type")
	}
	if v := c.FormValue("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		in.PatientID = id
	}
	if v := c.FormValue("diagnosis_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis_id")
		}
		in.DiagnosisID = &id
	}
	if v := c.FormValue("appointment_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_id")
		}
		in.AppointmentID = &id
	}

	r, err := h.svc.Upload(c.Request().Context(), actorID, in, file)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	if v := c.QueryParam("diagnosis_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis_id")
		}
		items, err := h.svc.ListByDiagnosis(ctx, id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, items)
	}
	if v := c.QueryParam("appointment_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_id")
		}
		items, err := h.svc.ListByAppointment(ctx, id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, items)
	}

	patientID, err := actor(c)
	if err != nil {
		return err
	}
	if v := c.QueryParam("patient_id"); v != "" {
		patientID, err = uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
	}
	pag := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(ctx, patientID, pag.Limit, pag.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pag.Limit, pag.Offset))
}

func (h *Handler) RequestAnalysis(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	r, err := h.svc.RequestAnalysis(c.Request().Context(), id, actorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, r)
}

func (h *Handler) CancelAnalysis(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	r, err := h.svc.CancelAnalysis(c.Request().Context(), id, actorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Review(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID, err := actor(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Review(c.Request().Context(), id, doctorID, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ServeFile(c echo.Context) error {
	rc, meta, err := h.svc.OpenFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func reportID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid report id")
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
	case errors.Is(err, ErrValidation),
		errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
