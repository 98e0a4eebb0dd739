package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/scoring"
	"github.com/padraicbc/gridpicks/store"
)

const tokenTTL = 30 * 24 * time.Hour

// Handler holds shared dependencies used by all route handlers.
type Handler struct {
	store  store.Store
	svc    *scoring.Service
	log    *zap.Logger
	JWTKey []byte
}

// New creates a Handler over the store and the scoring service built on it.
func New(st store.Store, svc *scoring.Service, log *zap.Logger, jwtKey []byte) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: st, svc: svc, log: log.Named("http"), JWTKey: jwtKey}
}

// Validator adapts go-playground/validator to echo.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (cv *Validator) Validate(i any) error {
	if err := cv.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "invalid_request", Message: err.Error()})
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// bind decodes the request and runs the struct's validate tags.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "invalid_request", Message: "malformed request body"})
	}
	return c.Validate(req)
}

// httpError maps a scoring or store failure to an HTTP error.
func (h *Handler) httpError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return err
	}
	if errors.Is(err, scoring.ErrPredictionsClosed) {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "predictions_closed", Message: err.Error()})
	}

	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindValidation:
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: string(kind), Message: err.Error()})
	case apperr.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, errorBody{Code: string(kind), Message: err.Error()})
	case apperr.KindConflict:
		return echo.NewHTTPError(http.StatusConflict, errorBody{Code: string(kind), Message: err.Error()})
	case apperr.KindForbidden:
		return echo.NewHTTPError(http.StatusForbidden, errorBody{Code: string(kind), Message: err.Error()})
	}
	h.log.Error("store failure", zap.Error(err))
	return echo.NewHTTPError(http.StatusServiceUnavailable, errorBody{Code: string(apperr.KindStore), Message: "store unavailable, retry later"}).SetInternal(err)
}
