package api

import (
	"log/slog"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"impostor-draw-server/ws"
)

// CreateServer builds the gin engine with every route mounted. hub may be nil
// to serve the REST routes only.
func CreateServer(h *Handler, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(corsConfig(h.Config.AllowedOrigins)))

	r.GET("/health", h.Health)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/categories", h.Categories)
		apiGroup.GET("/rooms/:code", h.Room)
		apiGroup.GET("/rooms/:code/drawings", h.Drawings)
	}

	if hub != nil {
		r.GET("/ws", func(ctx *gin.Context) {
			hub.ServeWS(ctx.Writer, ctx.Request)
		})
	}
	return r
}

func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cfg
}

func requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		slog.Debug("request",
			"tag", "api",
			"method", ctx.Request.Method,
			"path", ctx.FullPath(),
			"status", ctx.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
