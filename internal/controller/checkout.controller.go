package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dejidee0/Dimplesluxe/internal/appstate"
	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/dto"
	"github.com/dejidee0/Dimplesluxe/internal/repo"
	"github.com/dejidee0/Dimplesluxe/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OrderCanceller is satisfied by *service.Reconciler.
type OrderCanceller interface {
	Cancel(ctx context.Context, orderID uuid.UUID, orderNumber string) (*domain.Order, error)
}

type CheckoutController struct {
	Checkout  service.CheckoutService
	Payments  service.PaymentService
	Canceller OrderCanceller
	Sessions  *appstate.Manager
}

func NewCheckoutController(
	checkoutService service.CheckoutService,
	paymentService service.PaymentService,
	canceller OrderCanceller,
	sessions *appstate.Manager,
) *CheckoutController {
	return &CheckoutController{
		Checkout:  checkoutService,
		Payments:  paymentService,
		Canceller: canceller,
		Sessions:  sessions,
	}
}

// GET /checkout/payment-methods?currency=&country=&deviceWallet=&selected=
func (ctl *CheckoutController) PaymentMethods(c *gin.Context) {
	deviceWallet, _ := strconv.ParseBool(c.Query("deviceWallet"))
	sel, err := checkout.SelectMethod(
		domain.Provider(c.Query("selected")),
		c.DefaultQuery("currency", checkout.BaseCurrency),
		c.DefaultQuery("country", appstate.DefaultCountry),
		deviceWallet,
	)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "methods": sel.Available})
		return
	}
	c.JSON(http.StatusOK, sel)
}

// POST /checkout/orders
func (ctl *CheckoutController) PlaceOrder(c *gin.Context) {
	var req dto.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	in := service.CheckoutRequest{
		Lines:    req.Lines(),
		Form:     req.Form(),
		Currency: req.Currency,
		Rate:     req.ExchangeRate,
	}
	if req.SessionID != "" {
		st, err := ctl.Sessions.Get(ctx, req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		in.Lines = st.Cart.Items()
		in.Currency = st.Currency
		in.Rate = st.ExchangeRate
		if in.Form.ShippingMethod == "" {
			in.Form.ShippingMethod = st.ShippingMethod
		}
	}

	order, err := ctl.Checkout.PlaceOrder(ctx, in)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.SessionID != "" {
		if err := ctl.Sessions.TrackOrder(ctx, req.SessionID, order.ID); err != nil {
			// the cart just will not clear itself on confirmation
			log.Warn().Err(err).Str("order_number", order.Number).Msg("link order to session")
		}
	}
	c.JSON(http.StatusCreated, order)
}

// GET /orders/:orderNumber
func (ctl *CheckoutController) GetOrder(c *gin.Context) {
	details, err := ctl.Checkout.GetOrder(c.Request.Context(), repo.OrderFilter{Number: c.Param("orderNumber")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// POST /orders/:orderNumber/cancel accepts the order number or its id.
func (ctl *CheckoutController) CancelOrder(c *gin.Context) {
	ref := c.Param("orderNumber")
	var (
		id     uuid.UUID
		number string
	)
	if parsed, err := uuid.Parse(ref); err == nil {
		id = parsed
	} else {
		number = ref
	}

	order, err := ctl.Canceller.Cancel(c.Request.Context(), id, number)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GET /checkout/return
func (ctl *CheckoutController) Return(c *gin.Context) {
	var q dto.ReturnQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	in := service.ReturnQuery{OrderNumber: q.OrderNumber, Success: q.Success, Cancelled: q.Cancelled, Token: q.Token}
	if q.OrderID != "" {
		id, err := uuid.Parse(q.OrderID)
		if err != nil {
			badRequest(c, errors.New("invalid order id"))
			return
		}
		in.OrderID = id
	}

	status, err := ctl.Payments.ResolveReturn(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
