package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	mw "github.com/padraicbc/gridpicks/middleware"
	"github.com/padraicbc/gridpicks/scoring"
)

type predictionRequest struct {
	Prediction string `json:"prediction" validate:"required"`
}

type predictionsRequest struct {
	Predictions map[string]string `json:"predictions" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

type resultRequest struct {
	Result string `json:"result" validate:"required"`
}

// Predictions returns the caller's picks for every event of the Grand Prix.
func (h *Handler) Predictions(c echo.Context) error {
	views, err := h.svc.Engine.UserPredictions(c.Request().Context(), mw.Identity(c).UserID, c.Param("id"))
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, views)
}

// SavePredictions stores a batch of picks keyed by event id.
func (h *Handler) SavePredictions(c echo.Context) error {
	var req predictionsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	saved, err := h.svc.Engine.SubmitPredictions(c.Request().Context(), mw.Identity(c), c.Param("id"), req.Predictions)
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) SavePrediction(c echo.Context) error {
	var req predictionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Engine.SubmitPrediction(c.Request().Context(), mw.Identity(c), c.Param("id"), req.Prediction)
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// RecordResult stores the official result of an event and rescores it.
func (h *Handler) RecordResult(c echo.Context) error {
	var req resultRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.svc.Engine.RecordResult(c.Request().Context(), mw.Identity(c), c.Param("id"), req.Result)
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GrandPrixLeaderboard(c echo.Context) error {
	rows, err := h.svc.Leaderboard.GrandPrixLeaderboard(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.httpError(err)
	}
	if rows == nil {
		rows = []scoring.Standing{}
	}
	return c.JSON(http.StatusOK, rows)
}

// GlobalLeaderboard returns profiles by total score. limit=0 or no limit returns all.
func (h *Handler) GlobalLeaderboard(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "invalid_request", Message: "limit must be a non-negative integer"})
		}
		limit = n
	}
	rows, err := h.svc.Leaderboard.GlobalLeaderboard(c.Request().Context(), limit)
	if err != nil {
		return h.httpError(err)
	}
	if rows == nil {
		rows = []scoring.Standing{}
	}
	return c.JSON(http.StatusOK, rows)
}
