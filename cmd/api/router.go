package api

import (
	"net/http"

	"github.com/salutethegenius/kemiscrm-sub000/internal/auth/delivery"
	mailboxDelivery "github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, jwtSecret string, mailboxHandler *mailboxDelivery.MailboxHandler) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Mailbox routes (protected)
		protected := api.Group("")
		protected.Use(delivery.AuthMiddleware(jwtSecret))
		mailboxHandler.RegisterRoutes(protected)
	}
}
