package controller

import (
	"errors"
	"net/http"

	"github.com/dejidee0/Dimplesluxe/internal/appstate"
	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/exchange"
	"github.com/dejidee0/Dimplesluxe/internal/infrastructure/payment"
	"github.com/dejidee0/Dimplesluxe/internal/service"
	"github.com/gin-gonic/gin"
)

var statusByError = []struct {
	err    error
	status int
}{
	{checkout.ErrEmptyCart, http.StatusBadRequest},
	{domain.ErrInvalidQuantity, http.StatusBadRequest},
	{appstate.ErrInvalidCurrency, http.StatusBadRequest},
	{payment.ErrInvalidValidationURL, http.StatusBadRequest},
	{payment.ErrInvalidSignature, http.StatusBadRequest},
	{service.ErrMalformedEvent, http.StatusBadRequest},

	{service.ErrOrderNotFound, http.StatusNotFound},
	{service.ErrWalletSessionNotFound, http.StatusNotFound},
	{appstate.ErrNotFound, http.StatusNotFound},

	{service.ErrOrderNotPending, http.StatusConflict},
	{service.ErrIntegrity, http.StatusConflict},
	{service.ErrStaleRate, http.StatusConflict},
	{payment.ErrSessionState, http.StatusConflict},
	{payment.ErrUserCancelled, http.StatusConflict},

	{checkout.ErrMethodUnavailable, http.StatusUnprocessableEntity},
	{checkout.ErrNoPaymentMethods, http.StatusUnprocessableEntity},
	{checkout.ErrInvalidTotal, http.StatusUnprocessableEntity},
	{payment.ErrUnsupportedCurrency, http.StatusUnprocessableEntity},

	{payment.ErrProvider, http.StatusBadGateway},
	{exchange.ErrNoRate, http.StatusServiceUnavailable},
}

// statusFor returns the status a known error maps to, or 500.
func statusFor(err error) int {
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity
	}
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// respondError maps known errors to their status and hides everything else
// behind a generic 500. The error is attached to the context for the request
// logger.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "fields": verr.Fields})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondStatusOnly answers with the mapped status and its standard text.
// Callers are machines that only act on the status, and the error may carry
// order details.
func respondStatusOnly(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusFor(err)
	c.JSON(status, gin.H{"error": http.StatusText(status)})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
