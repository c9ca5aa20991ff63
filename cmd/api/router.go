package api

import (
	"net/http"

	"safe-backend/internal/auth/delivery"
	authUsecase "safe-backend/internal/auth/usecase"
	insightDelivery "safe-backend/internal/insight/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, authUsecase authUsecase.AuthUsecase, insightHandler *insightDelivery.InsightHandler) {
	authHandler := delivery.NewAuthHandler(authUsecase)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/register", authHandler.Register)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", delivery.AuthMiddleware(authUsecase), authHandler.Me)
			auth.POST("/logout", authHandler.Logout)
		}

		// The OAuth callback arrives from Google's redirect without our auth
		// header; the state token carries the user binding instead.
		api.GET("/connect/google/callback", insightHandler.ConnectGoogleCallback)

		// Gmail connection routes (protected)
		connect := api.Group("/connect")
		connect.Use(delivery.AuthMiddleware(authUsecase))
		{
			connect.GET("/google", insightHandler.ConnectGoogle)
			connect.DELETE("/google", insightHandler.DisconnectGoogle)
		}

		// Insight routes (protected)
		protected := api.Group("")
		protected.Use(delivery.AuthMiddleware(authUsecase))
		{
			protected.GET("/projects/:projectId/insights", insightHandler.GetInsights)
			protected.GET("/messages/:id/body", insightHandler.GetMessageBody)
		}
	}
}
