package controller

import (
	"net/http"

	"github.com/dejidee0/Dimplesluxe/internal/appstate"
	"github.com/dejidee0/Dimplesluxe/internal/dto"
	"github.com/gin-gonic/gin"
)

type SessionController struct {
	Sessions *appstate.Manager
}

func NewSessionController(m *appstate.Manager) *SessionController {
	return &SessionController{Sessions: m}
}

func (ctl *SessionController) reply(c *gin.Context, status int, st *appstate.State, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, dto.NewSessionResponse(st))
}

// POST /sessions
func (ctl *SessionController) Create(c *gin.Context) {
	st, err := ctl.Sessions.Create(c.Request.Context())
	ctl.reply(c, http.StatusCreated, st, err)
}

// GET /sessions/:sessionId
func (ctl *SessionController) Get(c *gin.Context) {
	st, err := ctl.Sessions.Get(c.Request.Context(), c.Param("sessionId"))
	ctl.reply(c, http.StatusOK, st, err)
}

// DELETE /sessions/:sessionId
func (ctl *SessionController) Delete(c *gin.Context) {
	if err := ctl.Sessions.Delete(c.Request.Context(), c.Param("sessionId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PATCH /sessions/:sessionId applies context changes in a fixed order:
// billing country first since it may move the currency.
func (ctl *SessionController) UpdateContext(c *gin.Context) {
	var req dto.SessionContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("sessionId")

	st, err := ctl.Sessions.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.BillingCountry != nil {
		if st, err = ctl.Sessions.SetBillingCountry(ctx, id, *req.BillingCountry); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.Currency != nil {
		if st, err = ctl.Sessions.SetCurrency(ctx, id, *req.Currency); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.DeviceWallet != nil {
		if st, err = ctl.Sessions.SetDeviceWallet(ctx, id, *req.DeviceWallet); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.ShippingMethod != nil {
		if st, err = ctl.Sessions.SetShippingMethod(ctx, id, *req.ShippingMethod); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.PaymentMethod != nil {
		if st, err = ctl.Sessions.SelectMethod(ctx, id, *req.PaymentMethod); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(st))
}

// POST /sessions/:sessionId/cart
func (ctl *SessionController) AddItem(c *gin.Context) {
	var req dto.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := ctl.Sessions.AddItem(c.Request.Context(), c.Param("sessionId"),
		req.Product.Snapshot(), req.Quantity, req.Length, req.Color)
	ctl.reply(c, http.StatusOK, st, err)
}

// PUT /sessions/:sessionId/cart/:productId
func (ctl *SessionController) UpdateItem(c *gin.Context) {
	var req dto.UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := ctl.Sessions.UpdateItem(c.Request.Context(), c.Param("sessionId"), c.Param("productId"), req.Quantity)
	ctl.reply(c, http.StatusOK, st, err)
}

// DELETE /sessions/:sessionId/cart/:productId
func (ctl *SessionController) RemoveItem(c *gin.Context) {
	st, err := ctl.Sessions.RemoveItem(c.Request.Context(), c.Param("sessionId"), c.Param("productId"))
	ctl.reply(c, http.StatusOK, st, err)
}

// DELETE /sessions/:sessionId/cart
func (ctl *SessionController) ClearCart(c *gin.Context) {
	st, err := ctl.Sessions.ClearCart(c.Request.Context(), c.Param("sessionId"))
	ctl.reply(c, http.StatusOK, st, err)
}
