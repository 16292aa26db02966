package report

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hadadahealth/reports/internal/platform/apperr"
	"github.com/hadadahealth/reports/internal/platform/auth"
	"github.com/hadadahealth/reports/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/reports", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/sweep", h.Sweep)

	g := api.Group("/reports", auth.RequireRole(auth.RoleClinician))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id/content", h.EditContent)
	g.POST("/:id/generate", h.Generate)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/complete", h.Complete)
	g.GET("/:id/versions", h.History)
	g.GET("/:id/versions/:version", h.GetVersion)
	g.POST("/:id/versions/:version/restore", h.Restore)
	g.GET("/:id/diff", h.Diff)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseVersion(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid version")
	}
	return n, nil
}

type recordedResponse struct {
	Report         *View           `json:"report"`
	Version        *ContentVersion `json:"version"`
	PreviousStatus Status          `json:"previous_status"`
	CacheHit       *bool           `json:"cache_hit,omitempty"`
}

func (h *Handler) recorded(rec *Recorded) recordedResponse {
	return recordedResponse{
		Report:         newView(rec.Report, h.svc.now()),
		Version:        rec.Version,
		PreviousStatus: rec.From,
	}
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.Create(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

// List filters by patient_id, assignee and status. assignee=me means the
// caller.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)

	f := Filter{Assignee: c.QueryParam("assignee"), Status: Status(c.QueryParam("status"))}
	if f.Assignee == "me" {
		f.Assignee = auth.UserIDFromContext(ctx)
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}

	items, total, err := h.svc.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) EditContent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req EditRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.svc.EditContent(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, h.recorded(rec))
}

func (h *Handler) Generate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	res, err := h.svc.Generate(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	out := h.recorded(res.Recorded)
	out.CacheHit = &res.CacheHit
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Start(c echo.Context) error {
	return h.transition(c, ActionStart)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, ActionComplete)
}

func (h *Handler) transition(c echo.Context, action Action) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rep, err := h.svc.Transition(ctx, id, action, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, newView(rep, h.svc.now()))
}

func (h *Handler) History(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	versions, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if versions == nil {
		versions = []*ContentVersion{}
	}
	return c.JSON(http.StatusOK, versions)
}

func (h *Handler) GetVersion(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := parseVersion(c.Param("version"))
	if err != nil {
		return err
	}
	v, err := h.svc.Version(c.Request().Context(), id, n)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Restore(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := parseVersion(c.Param("version"))
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Restore(ctx, id, n, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, h.recorded(rec))
}

func (h *Handler) Diff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	from, err := parseVersion(c.QueryParam("from"))
	if err != nil {
		return err
	}
	to, err := parseVersion(c.QueryParam("to"))
	if err != nil {
		return err
	}
	d, err := h.svc.Diff(c.Request().Context(), id, from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Sweep(c echo.Context) error {
	res, err := h.svc.Sweep(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
