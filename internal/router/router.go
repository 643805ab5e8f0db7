package router

import (
	"context"
	"net/http"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/controller"
	"github.com/dejidee0/Dimplesluxe/internal/infrastructure/payment"
	"github.com/dejidee0/Dimplesluxe/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HealthChecker is satisfied by database.Service.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Verifier func(signature string, body []byte) error

type Options struct {
	AllowedOrigins []string
	Health         HealthChecker

	Sessions *controller.SessionController
	Checkout *controller.CheckoutController
	Payments *controller.PaymentController

	HostedWebhookVerifier Verifier
	BankWebhookVerifier   Verifier
}

func New(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(), middleware.Recover())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     opts.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		stats := opts.Health.Health(c.Request.Context())
		status := http.StatusOK
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, stats)
	})

	sessions := r.Group("/sessions")
	sessions.POST("", opts.Sessions.Create)
	sessions.GET("/:sessionId", opts.Sessions.Get)
	sessions.PATCH("/:sessionId", opts.Sessions.UpdateContext)
	sessions.DELETE("/:sessionId", opts.Sessions.Delete)
	sessions.POST("/:sessionId/cart", opts.Sessions.AddItem)
	sessions.DELETE("/:sessionId/cart", opts.Sessions.ClearCart)
	sessions.PUT("/:sessionId/cart/:productId", opts.Sessions.UpdateItem)
	sessions.DELETE("/:sessionId/cart/:productId", opts.Sessions.RemoveItem)

	co := r.Group("/checkout")
	co.GET("/payment-methods", opts.Checkout.PaymentMethods)
	co.POST("/orders", opts.Checkout.PlaceOrder)
	co.GET("/return", opts.Checkout.Return)

	r.GET("/orders/:orderNumber", opts.Checkout.GetOrder)
	r.POST("/orders/:orderNumber/cancel", opts.Checkout.CancelOrder)

	pay := r.Group("/payments")
	pay.POST("/initialize", opts.Payments.Initialize)
	pay.POST("/hosted-session/webhook",
		middleware.WebhookSignature(payment.HostedSignatureHeader, opts.HostedWebhookVerifier),
		opts.Payments.HostedWebhook)
	pay.GET("/bank-transfer/verify/:reference", opts.Payments.VerifyBankTransfer)
	pay.POST("/bank-transfer/webhook",
		middleware.WebhookSignature(payment.BankSignatureHeader, opts.BankWebhookVerifier),
		opts.Payments.BankWebhook)

	wallet := pay.Group("/wallet/sessions")
	wallet.POST("", opts.Payments.BeginWallet)
	wallet.POST("/:id/validate", opts.Payments.ValidateWallet)
	wallet.POST("/:id/authorize", opts.Payments.AuthorizeWallet)
	wallet.POST("/:id/cancel", opts.Payments.CancelWallet)

	return r
}
