package records

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/patients/:id/visits", h.ListPatientVisits)
	api.GET("/doctors/:id", h.GetDoctor)
	api.GET("/doctors/:id/visits", h.ListDoctorVisits)
	api.GET("/visits/:id", h.GetVisit)
	api.DELETE("/visits/:id", h.DeleteVisit)
	api.PUT("/visits/:id/payment", h.RecordPayment)
}

// HTTPError maps store errors onto HTTP status codes.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIntegrity):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := GetAs[Patient](c.Request().Context(), h.store, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatientVisits(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	visits, err := h.store.VisitsByPatient(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, visits)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	d, err := GetAs[Doctor](c.Request().Context(), h.store, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDoctorVisits(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	visits, err := h.store.VisitsByDoctor(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, visits)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	detail, err := h.store.VisitDetail(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) DeleteVisit(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.store.DeleteVisit(c.Request().Context(), id); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var u PaymentUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !u.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payment_status")
	}
	if !u.Status.Settled() && (u.PaidDate != nil || u.Method != nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "paid_date and payment_method require a Paid or Partial status")
	}
	if err := h.store.RecordPayment(c.Request().Context(), id, u); err != nil {
		return HTTPError(err)
	}
	detail, err := h.store.VisitDetail(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, detail.Billing)
}
