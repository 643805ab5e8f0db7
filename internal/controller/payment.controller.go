package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/dto"
	"github.com/dejidee0/Dimplesluxe/internal/middleware"
	"github.com/dejidee0/Dimplesluxe/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type PaymentController struct {
	Payments service.PaymentService
}

func NewPaymentController(s service.PaymentService) *PaymentController {
	return &PaymentController{Payments: s}
}

func (ctl *PaymentController) initialize(c *gin.Context, orderID string, provider domain.Provider, deviceWallet bool, status int) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		badRequest(c, errors.New("invalid order id"))
		return
	}
	if !provider.Valid() {
		badRequest(c, errors.New("unknown payment provider"))
		return
	}

	started, err := ctl.Payments.Initialize(c.Request.Context(), service.InitializeRequest{
		OrderID:      id,
		Provider:     provider,
		DeviceWallet: deviceWallet,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, started)
}

// POST /payments/initialize
func (ctl *PaymentController) Initialize(c *gin.Context) {
	var req dto.InitializePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctl.initialize(c, req.OrderID, req.Provider, req.DeviceWallet, http.StatusOK)
}

// POST /payments/wallet/sessions opens the device payment sheet for an order.
func (ctl *PaymentController) BeginWallet(c *gin.Context) {
	var req dto.WalletSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctl.initialize(c, req.OrderID, domain.ProviderOnDeviceWallet, true, http.StatusCreated)
}

// POST /payments/wallet/sessions/:id/validate
func (ctl *PaymentController) ValidateWallet(c *gin.Context) {
	var req dto.WalletValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	merchant, err := ctl.Payments.ValidateWallet(c.Request.Context(), c.Param("id"), req.ValidationURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", merchant)
}

// POST /payments/wallet/sessions/:id/authorize
func (ctl *PaymentController) AuthorizeWallet(c *gin.Context) {
	var req dto.WalletAuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := ctl.Payments.AuthorizeWallet(c.Request.Context(), c.Param("id"), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /payments/wallet/sessions/:id/cancel
func (ctl *PaymentController) CancelWallet(c *gin.Context) {
	if err := ctl.Payments.CancelWallet(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// GET /payments/bank-transfer/verify/:reference
func (ctl *PaymentController) VerifyBankTransfer(c *gin.Context) {
	res, err := ctl.Payments.VerifyBankTransfer(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /payments/hosted-session/webhook
func (ctl *PaymentController) HostedWebhook(c *gin.Context) {
	ctl.webhook(c, domain.ProviderHostedSession, ctl.Payments.HandleHostedEvent)
}

// POST /payments/bank-transfer/webhook
func (ctl *PaymentController) BankWebhook(c *gin.Context) {
	ctl.webhook(c, domain.ProviderBankTransfer, ctl.Payments.HandleBankEvent)
}

// webhook acknowledges processed, duplicate and ignored events with 200 so
// the provider stops retrying. Store failures answer 500 so it retries.
func (ctl *PaymentController) webhook(
	c *gin.Context,
	provider domain.Provider,
	handle func(ctx context.Context, body []byte) (service.ReconcileResult, error),
) {
	body := middleware.RawBody(c)
	if body == nil {
		badRequest(c, errors.New("missing webhook body"))
		return
	}

	res, err := handle(c.Request.Context(), body)
	if err != nil {
		log.Error().Err(err).
			Str("provider", string(provider)).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Msg("webhook not processed")
		respondStatusOnly(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.WebhookResponse{Received: true, Result: string(res)})
}
