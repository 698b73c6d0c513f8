package reporting

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/analytics/internal/platform/analytics"
	"github.com/ehr/analytics/pkg/pagination"
)

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id", h.GetMeasure)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Measures())
}

func (h *Handler) GetMeasure(c echo.Context) error {
	id := c.Param("id")
	for _, m := range h.svc.Measures() {
		if m.ID == id {
			return c.JSON(http.StatusOK, m)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "measure not found")
}

// EvaluateMeasure runs a measure with parameters taken from the query string.
// Paginated measures honour limit and offset.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	id := c.Param("id")
	m := FindMeasure(id)
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	raw := map[string]string{}
	for _, p := range m.Parameters {
		if v := c.QueryParam(p.Name); v != "" {
			raw[p.Name] = v
		}
	}

	report, err := h.svc.Evaluate(c.Request().Context(), id, raw)
	if err != nil {
		return httpError(err)
	}

	rows, ok := report.Results.([]any)
	if !m.Paginated || !ok {
		return c.JSON(http.StatusOK, report)
	}

	p := pagination.FromContext(c)
	report.Results = pagination.Page(rows, p)
	resp := pagination.NewResponse(report, report.Total, p.Limit, p.Offset)
	resp.Links = p.Links(c.Request().URL.Path, c.QueryParams(), report.Total)
	return c.JSON(http.StatusOK, resp)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrMeasureNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, analytics.ErrInvalidParameter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
