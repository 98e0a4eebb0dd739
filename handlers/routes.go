package handlers

import (
	"github.com/labstack/echo/v4"

	mw "github.com/padraicbc/gridpicks/middleware"
)

// Routes registers the API on e and installs the request validator.
func (h *Handler) Routes(e *echo.Echo) {
	e.Validator = NewValidator()

	// Public
	e.POST("/api/signin", h.Signin)

	// Protected – require valid JWT in Authorization header
	api := e.Group("/api", mw.JWT(h.JWTKey))
	api.GET("/me", h.Me)
	api.GET("/drivers", h.Drivers)
	api.GET("/grand-prix", h.ListGrandPrix)
	api.GET("/grand-prix/:id", h.GetGrandPrix)
	api.GET("/grand-prix/:id/events", h.Events)
	api.GET("/grand-prix/:id/leaderboard", h.GrandPrixLeaderboard)
	api.GET("/grand-prix/:id/predictions", h.Predictions)
	api.PUT("/grand-prix/:id/predictions", h.SavePredictions)
	api.PUT("/events/:id/prediction", h.SavePrediction)
	api.GET("/leaderboard", h.GlobalLeaderboard)

	admin := api.Group("/admin", mw.RequireAdmin)
	admin.POST("/users", h.CreateUser)
	admin.POST("/grand-prix", h.CreateGrandPrix)
	admin.POST("/grand-prix/:id/activate", h.ActivateGrandPrix)
	admin.DELETE("/grand-prix/:id", h.DeleteGrandPrix)
	admin.POST("/grand-prix/:id/events", h.AddEvent)
	admin.POST("/grand-prix/:id/rescore", h.Rescore)
	admin.DELETE("/events/:id", h.DeleteEvent)
	admin.PUT("/events/:id/result", h.RecordResult)
}
