package http

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/agora-api/agora/internal/ws"
)

// SetupRoutes configures all application routes and middleware around
// the injected Env.
func SetupRoutes(router *gin.Engine, env *Env) {

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())

	corsOrigin := os.Getenv("CORS_ORIGIN")
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
	}))

	// Coarse per-IP flood guard in front of the whole API. The
	// governance limiter inside the core still applies per caller.
	guard := NewIPRateLimiter(rate.Limit(floodGuardRPS), floodGuardBurst)
	go func() {
		for {
			time.Sleep(10 * time.Minute)
			guard.Cleanup()
		}
	}()

	router.GET("/health", env.Health)

	api := router.Group("/api")
	api.Use(FloodGuardMiddleware(guard))
	{
		api.GET("/notes", env.GetNotes)
		api.GET("/trending", env.GetTopNotes)
		api.GET("/notes/:id", env.GetNote)
		api.POST("/notes", env.CreateNote)
		api.PUT("/notes/:id", env.UpdateNote)
		api.POST("/notes/:id/vote", env.VoteNote)
		api.POST("/notes/:id/pin", env.PinNote)
		api.DELETE("/notes/:id", env.DeleteNote)
		api.GET("/stats", env.GetStats)
	}

	if env.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			ws.ServeWs(env.Hub, c.Writer, c.Request)
		})
	}
}
