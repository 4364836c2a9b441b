package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/octobees/cardscan/api/internal/config"
	"github.com/octobees/cardscan/api/internal/handler"
	middlewarepkg "github.com/octobees/cardscan/api/internal/middleware"
)

// Handlers aggregates HTTP handlers used by the router.
type Handlers struct {
	Cards *handler.CardsHandler
	// AuditEnabled exposes the save-run endpoints.
	AuditEnabled bool
}

// Register wires all HTTP routes for the API.
func Register(e *echo.Echo, cfg *config.Config, handlers Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return handler.Success(c, http.StatusOK, "service healthy", map[string]any{"status": "ok"})
	})

	cards := e.Group("/cards")
	cards.GET("", handlers.Cards.List)
	cards.GET("/export.csv", handlers.Cards.Export)
	cards.POST("", handlers.Cards.Create)
	cards.POST("/upload", handlers.Cards.Upload, middlewarepkg.UploadRateLimiter(cfg.RateLimitUpload))
	cards.POST("/validate", handlers.Cards.Validate)
	cards.POST("/save", handlers.Cards.Save)
	cards.PATCH("/:id", handlers.Cards.Update)
	cards.DELETE("/:id", handlers.Cards.Delete)

	if handlers.AuditEnabled {
		e.GET("/saves", handlers.Cards.SaveRuns)
		e.GET("/saves/:id", handlers.Cards.SaveRun)
	}
}
