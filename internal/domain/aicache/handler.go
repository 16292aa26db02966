package aicache

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hadadahealth/reports/internal/domain/clinical"
	"github.com/hadadahealth/reports/internal/platform/apperr"
	"github.com/hadadahealth/reports/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clin := api.Group("", auth.RequireRole(auth.RoleClinician))
	clin.POST("/ai-cache/preview", h.Preview)
	clin.POST("/ai-cache/invalidate", h.Invalidate)
	clin.POST("/patients/:id/clinical-data-changed", h.ClinicalDataChanged)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/ai-cache/stats", h.Stats)
}

type slotRequest struct {
	PatientID   string `json:"patient_id"`
	ContentType string `json:"content_type"`
	Discipline  string `json:"discipline"`
}

func (r slotRequest) slot() (Slot, error) {
	pid, err := uuid.Parse(r.PatientID)
	if err != nil {
		return Slot{}, apperr.Validation("invalid patient_id")
	}
	ct, err := clinical.ParseContentType(r.ContentType)
	if err != nil {
		return Slot{}, apperr.Validation("%s", err.Error())
	}
	slot := Slot{PatientID: pid, ContentType: ct}
	if r.Discipline != "" {
		d, err := clinical.ParseDiscipline(r.Discipline)
		if err != nil {
			return Slot{}, apperr.Validation("%s", err.Error())
		}
		slot.Discipline = &d
	}
	return slot, nil
}

// Preview returns the narrative for a slot without attaching it to a report.
func (h *Handler) Preview(c echo.Context) error {
	var req slotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := req.slot()
	if err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	res, err := h.svc.Content(ctx, slot, auth.UserIDFromContext(ctx), nil)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Invalidate drops one slot, or every slot of the patient when content_type
// is omitted.
func (h *Handler) Invalidate(c echo.Context) error {
	var req slotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	var (
		n   int64
		err error
	)
	if req.ContentType == "" {
		pid, perr := uuid.Parse(req.PatientID)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		n, err = h.svc.InvalidatePatient(ctx, pid)
	} else {
		slot, serr := req.slot()
		if serr != nil {
			return apperr.ToHTTP(serr)
		}
		n, err = h.svc.Invalidate(ctx, slot)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"invalidated": n})
}

func (h *Handler) ClinicalDataChanged(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.InvalidatePatient(c.Request().Context(), pid)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"invalidated": n})
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}
