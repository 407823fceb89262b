package subscription

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hans/hans/internal/platform/fhir"
)

// Handler provides the Subscription endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers POST and DELETE /Subscription with the given
// route middleware.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.POST("/Subscription", h.Create, mw...)
	e.DELETE("/Subscription/:id", h.Delete, mw...)
}

func (h *Handler) Create(c echo.Context) error {
	var p fhir.Patient
	if err := json.NewDecoder(c.Request().Body).Decode(&p); err != nil {
		return outcome(c, http.StatusBadRequest, fhir.IssueTypeValue, "Request body is not a valid Patient: "+err.Error())
	}

	id, err := h.svc.Subscribe(c.Request().Context(), &p)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(SubscriptionIDHeader, id.String())
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Unsubscribe(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handler) fail(c echo.Context, err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return outcome(c, http.StatusBadRequest, verr.Code, verr.Diagnostics)
	case errors.Is(err, ErrBirthDateMismatch):
		return outcome(c, http.StatusBadRequest, fhir.IssueTypeBusinessRule, "Date of birth did not match")
	case errors.Is(err, ErrNameMismatch):
		return outcome(c, http.StatusBadRequest, fhir.IssueTypeBusinessRule, "Name did not match")
	case errors.Is(err, ErrPatientNotFound):
		return outcome(c, http.StatusNotFound, fhir.IssueTypeNotFound, "NHS Number did not exist on PDS")
	case errors.Is(err, ErrInvalidID):
		return outcome(c, http.StatusInternalServerError, fhir.IssueTypeException, "Provided subscription ID is not a valid UUID")
	default:
		h.svc.logger.Error().Err(err).Msg("subscription request failed")
		return outcome(c, http.StatusInternalServerError, fhir.IssueTypeException, "Unknown error occurred")
	}
}

func outcome(c echo.Context, status int, code, diagnostics string) error {
	return c.JSON(status, fhir.ErrorOutcome(code, diagnostics))
}
