package api

import (
	authUsecase "safe-backend/internal/auth/usecase"
	insightDelivery "safe-backend/internal/insight/delivery"
	insightUsecasePkg "safe-backend/internal/insight/usecase"
	"safe-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	authUsecase    authUsecase.AuthUsecase
	insightHandler *insightDelivery.InsightHandler
	config         *config.Config
}

func NewHandler(authUc authUsecase.AuthUsecase, insightUc insightUsecasePkg.InsightUsecase, cfg *config.Config) *Handler {
	return &Handler{
		authUsecase:    authUc,
		insightHandler: insightDelivery.NewInsightHandler(insightUc, cfg),
		config:         cfg,
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h.authUsecase, h.insightHandler)

	return r.Run(addr)
}
