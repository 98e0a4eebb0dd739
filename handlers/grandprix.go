package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	mw "github.com/padraicbc/gridpicks/middleware"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/scoring"
)

type createGrandPrixRequest struct {
	Name        string    `json:"name" validate:"required,max=120"`
	StartDate   time.Time `json:"startDate" validate:"required"`
	EndDate     time.Time `json:"endDate" validate:"required,gtefield=StartDate"`
	Location    string    `json:"location" validate:"max=120"`
	CountryCode string    `json:"countryCode" validate:"omitempty,len=2,alpha"`
}

type addEventRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
	Points      int    `json:"points" validate:"required,gt=0"`
}

// ListGrandPrix returns all Grand Prix, newest first, optionally filtered by status.
func (h *Handler) ListGrandPrix(c echo.Context) error {
	status := models.GrandPrixStatus(c.QueryParam("status"))
	gps, err := h.svc.Lifecycle.ListGrandPrix(c.Request().Context(), status)
	if err != nil {
		return h.httpError(err)
	}
	if gps == nil {
		gps = []models.GrandPrix{}
	}
	return c.JSON(http.StatusOK, gps)
}

func (h *Handler) GetGrandPrix(c echo.Context) error {
	gp, err := h.svc.Lifecycle.GrandPrix(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, gp)
}

func (h *Handler) Events(c echo.Context) error {
	events, err := h.svc.Lifecycle.Events(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.httpError(err)
	}
	if events == nil {
		events = []models.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) Drivers(c echo.Context) error {
	drivers, err := h.svc.Lifecycle.ActiveDrivers(c.Request().Context())
	if err != nil {
		return h.httpError(err)
	}
	if drivers == nil {
		drivers = []models.Driver{}
	}
	return c.JSON(http.StatusOK, drivers)
}

// CreateGrandPrix adds an upcoming Grand Prix.
func (h *Handler) CreateGrandPrix(c echo.Context) error {
	var req createGrandPrixRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	gp, err := h.svc.Lifecycle.CreateGrandPrix(c.Request().Context(), mw.Identity(c), scoring.GrandPrixInput{
		Name:        req.Name,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Location:    req.Location,
		CountryCode: req.CountryCode,
	})
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusCreated, gp)
}

// ActivateGrandPrix makes the Grand Prix the only active one.
func (h *Handler) ActivateGrandPrix(c echo.Context) error {
	gp, err := h.svc.Lifecycle.Activate(c.Request().Context(), mw.Identity(c), c.Param("id"))
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, gp)
}

// DeleteGrandPrix removes an upcoming Grand Prix and everything under it.
func (h *Handler) DeleteGrandPrix(c echo.Context) error {
	if err := h.svc.Lifecycle.DeleteGrandPrix(c.Request().Context(), mw.Identity(c), c.Param("id")); err != nil {
		return h.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddEvent(c echo.Context) error {
	var req addEventRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ev, err := h.svc.Lifecycle.AddEvent(c.Request().Context(), mw.Identity(c), c.Param("id"), scoring.EventInput{
		Name:        req.Name,
		Description: req.Description,
		Points:      req.Points,
	})
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) DeleteEvent(c echo.Context) error {
	if err := h.svc.Lifecycle.DeleteEvent(c.Request().Context(), mw.Identity(c), c.Param("id")); err != nil {
		return h.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Rescore rebuilds every leaderboard row of the Grand Prix.
func (h *Handler) Rescore(c echo.Context) error {
	n, err := h.svc.Leaderboard.RecomputeGrandPrix(c.Request().Context(), mw.Identity(c), c.Param("id"))
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"rescoredUsers": n})
}
