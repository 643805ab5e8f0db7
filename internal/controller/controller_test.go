package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dejidee0/Dimplesluxe/internal/appstate"
	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/controller"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/events"
	"github.com/dejidee0/Dimplesluxe/internal/infrastructure/payment"
	"github.com/dejidee0/Dimplesluxe/internal/repo"
	"github.com/dejidee0/Dimplesluxe/internal/router"
	"github.com/dejidee0/Dimplesluxe/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRates struct{}

func (stubRates) GetRate(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1850), nil
}

type stubHealth struct{ status string }

func (h stubHealth) Health(context.Context) map[string]string {
	return map[string]string{"status": h.status}
}

type stubCheckout struct {
	placed  *service.CheckoutRequest
	order   *domain.Order
	err     error
	filter  repo.OrderFilter
	details *service.OrderDetails
}

func (s *stubCheckout) PlaceOrder(_ context.Context, req service.CheckoutRequest) (*domain.Order, error) {
	s.placed = &req
	return s.order, s.err
}

func (s *stubCheckout) GetOrder(_ context.Context, f repo.OrderFilter) (*service.OrderDetails, error) {
	s.filter = f
	if s.details == nil {
		return nil, service.ErrOrderNotFound
	}
	return s.details, nil
}

type stubPayments struct {
	service.PaymentService

	initReq   service.InitializeRequest
	initErr   error
	walletErr error
	eventRes  service.ReconcileResult
	eventErr  error
	events    int
	returnQ   service.ReturnQuery
}

func (s *stubPayments) Initialize(_ context.Context, req service.InitializeRequest) (*payment.Initiation, error) {
	s.initReq = req
	if s.initErr != nil {
		return nil, s.initErr
	}
	return &payment.Initiation{Kind: payment.KindRedirect, Provider: req.Provider, RedirectURL: "https://pay.example/s/1", Currency: "GBP"}, nil
}

func (s *stubPayments) ValidateWallet(context.Context, string, string) (json.RawMessage, error) {
	if s.walletErr != nil {
		return nil, s.walletErr
	}
	return json.RawMessage(`{"merchantSessionIdentifier":"m-1"}`), nil
}

func (s *stubPayments) CancelWallet(context.Context, string) error {
	return s.walletErr
}

func (s *stubPayments) HandleHostedEvent(_ context.Context, _ []byte) (service.ReconcileResult, error) {
	s.events++
	return s.eventRes, s.eventErr
}

func (s *stubPayments) HandleBankEvent(ctx context.Context, body []byte) (service.ReconcileResult, error) {
	return s.HandleHostedEvent(ctx, body)
}

func (s *stubPayments) ResolveReturn(_ context.Context, q service.ReturnQuery) (*service.ReturnStatus, error) {
	s.returnQ = q
	return &service.ReturnStatus{Order: &domain.Order{Number: q.OrderNumber, Status: domain.OrderPending}, Cancelled: q.Cancelled}, nil
}

type stubCanceller struct {
	id     uuid.UUID
	number string
	err    error
}

func (s *stubCanceller) Cancel(_ context.Context, id uuid.UUID, number string) (*domain.Order, error) {
	s.id, s.number = id, number
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Order{ID: id, Number: number, Status: domain.OrderCancelled}, nil
}

type harness struct {
	engine    *gin.Engine
	checkout  *stubCheckout
	payments  *stubPayments
	canceller *stubCanceller
	sessions  *appstate.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		checkout:  &stubCheckout{},
		payments:  &stubPayments{},
		canceller: &stubCanceller{},
		sessions:  appstate.NewManager(appstate.NewMemoryStore(), stubRates{}),
	}
	verify := func(sig string, _ []byte) error {
		if sig != "valid" {
			return payment.ErrInvalidSignature
		}
		return nil
	}
	h.engine = router.New(router.Options{
		AllowedOrigins:        []string{"http://localhost:3000"},
		Health:                stubHealth{status: "up"},
		Sessions:              controller.NewSessionController(h.sessions),
		Checkout:              controller.NewCheckoutController(h.checkout, h.payments, h.canceller, h.sessions),
		Payments:              controller.NewPaymentController(h.payments),
		HostedWebhookVerifier: verify,
		BankWebhookVerifier:   verify,
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "up", body["status"])
}

func TestPaymentMethods(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/checkout/payment-methods?currency=NGN&country=NG", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.ProviderBankTransfer), body["selected"])

	code, body = h.do(t, http.MethodGet, "/checkout/payment-methods?currency=GBP&country=GB&deviceWallet=true&selected=on-device-wallet", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.ProviderOnDeviceWallet), body["selected"])
	assert.Len(t, body["methods"], 3)

	code, _ = h.do(t, http.MethodGet, "/checkout/payment-methods?currency=JPY&country=JP", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, code)
	id := body["id"].(string)
	assert.Equal(t, "GBP", body["currency"])

	code, body = h.do(t, http.MethodPost, "/sessions/"+id+"/cart", map[string]any{
		"product":  map[string]any{"id": "wig-1", "name": "Body wave", "price": "30.00"},
		"quantity": 2,
	})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["itemCount"])
	totals := body["totals"].(map[string]any)
	total := decimal.RequireFromString(totals["total"].(string))
	assert.True(t, total.Equal(decimal.NewFromInt(60)), "free standard shipping from 50, got %s", total)

	code, _ = h.do(t, http.MethodPost, "/sessions/"+id+"/cart", map[string]any{
		"product":  map[string]any{"id": "wig-1", "name": "Body wave"},
		"quantity": 0,
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(t, http.MethodPatch, "/sessions/"+id, map[string]any{"billingCountry": "NG"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "NGN", body["currency"])
	assert.Equal(t, string(domain.ProviderBankTransfer), body["payment"].(map[string]any)["selected"])

	code, _ = h.do(t, http.MethodPatch, "/sessions/"+id, map[string]any{"paymentMethod": "on-device-wallet"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body = h.do(t, http.MethodPut, "/sessions/"+id+"/cart/wig-1", map[string]any{"quantity": 0})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["itemCount"])

	code, _ = h.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(t, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPlaceOrderFromSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.sessions.Create(ctx)
	require.NoError(t, err)
	_, err = h.sessions.AddItem(ctx, st.ID, domain.ProductSnapshot{ID: "wig-1", Name: "Kinky curl", Price: decimal.RequireFromString("60")}, 1, "", "")
	require.NoError(t, err)
	_, err = h.sessions.SetBillingCountry(ctx, st.ID, "NG")
	require.NoError(t, err)

	orderID := uuid.New()
	h.checkout.order = &domain.Order{ID: orderID, Number: "DLX1", Status: domain.OrderPending}

	code, body := h.do(t, http.MethodPost, "/checkout/orders", map[string]any{
		"sessionId": st.ID,
		"customer":  map[string]any{"firstName": "Ada", "lastName": "Obi", "email": "ada@example.com", "phone": "+2348000000000"},
		"billingAddress": map[string]any{
			"line1": "1 Marina", "city": "Lagos", "postcode": "101001", "country": "NG",
		},
		"sameAsBilling": true,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "DLX1", body["orderNumber"])

	placed := h.checkout.placed
	require.NotNil(t, placed)
	require.Len(t, placed.Lines, 1)
	assert.Equal(t, "NGN", placed.Currency)
	assert.True(t, placed.Rate.Equal(decimal.NewFromInt(1850)))
	assert.Equal(t, domain.ShippingStandard, placed.Form.ShippingMethod)
	assert.True(t, placed.Form.SameAsBilling)

	// the order is linked to the session, so confirmation clears the cart
	pub := events.NewLocalPublisher()
	pub.Subscribe(h.sessions.OnStatusChanged)
	require.NoError(t, pub.PublishStatusChanged(ctx, events.OrderStatusChanged{OrderID: orderID, To: domain.OrderConfirmed}))
	got, err := h.sessions.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.True(t, got.Cart.IsEmpty())
}

func TestPlaceOrderErrors(t *testing.T) {
	h := newHarness(t)

	h.checkout.err = &checkout.ValidationError{Fields: map[string]string{"email": "email is required"}}
	code, body := h.do(t, http.MethodPost, "/checkout/orders", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "email is required", body["fields"].(map[string]any)["email"])

	h.checkout.err = checkout.ErrEmptyCart
	code, _ = h.do(t, http.MethodPost, "/checkout/orders", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	h.checkout.err = fmt.Errorf("%w: shown 1, current 1850 for NGN", service.ErrStaleRate)
	code, _ = h.do(t, http.MethodPost, "/checkout/orders", map[string]any{})
	assert.Equal(t, http.StatusConflict, code)

	h.checkout.err = errors.New("pq: connection refused")
	code, body = h.do(t, http.MethodPost, "/checkout/orders", map[string]any{})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal Server Error", body["error"], "internal errors are not echoed")

	code, _ = h.do(t, http.MethodPost, "/checkout/orders", map[string]any{"sessionId": "gone"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, http.MethodPost, "/checkout/orders", `{"items": [`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetOrder(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodGet, "/orders/DLX404", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "DLX404", h.checkout.filter.Number)

	h.checkout.details = &service.OrderDetails{Order: &domain.Order{Number: "DLX1", Status: domain.OrderConfirmed}}
	code, body := h.do(t, http.MethodGet, "/orders/DLX1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirmed", body["order"].(map[string]any)["status"])
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/orders/DLX1/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DLX1", h.canceller.number)
	assert.Equal(t, uuid.Nil, h.canceller.id)
	assert.Equal(t, "cancelled", body["status"])

	id := uuid.New()
	code, _ = h.do(t, http.MethodPost, "/orders/"+id.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, h.canceller.id)

	h.canceller.err = fmt.Errorf("%w: DLX1 is confirmed", service.ErrOrderNotPending)
	code, _ = h.do(t, http.MethodPost, "/orders/DLX1/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestInitializePayment(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	code, _ := h.do(t, http.MethodPost, "/payments/initialize", map[string]any{"orderId": "nope", "provider": "hosted-session"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/payments/initialize", map[string]any{"orderId": id, "provider": "cash"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(t, http.MethodPost, "/payments/initialize", map[string]any{"orderId": id, "provider": "hosted-session"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://pay.example/s/1", body["redirectUrl"])
	assert.Equal(t, id, h.payments.initReq.OrderID)

	h.payments.initErr = fmt.Errorf("%w: bank-transfer for GBP/GB", checkout.ErrMethodUnavailable)
	code, _ = h.do(t, http.MethodPost, "/payments/initialize", map[string]any{"orderId": id, "provider": "bank-transfer"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	h.payments.initErr = fmt.Errorf("initialize hosted-session: %w: 500", payment.ErrProvider)
	code, _ = h.do(t, http.MethodPost, "/payments/initialize", map[string]any{"orderId": id, "provider": "hosted-session"})
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestWalletRoutes(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	code, _ := h.do(t, http.MethodPost, "/payments/wallet/sessions", map[string]any{"orderId": id})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, domain.ProviderOnDeviceWallet, h.payments.initReq.Provider)
	assert.True(t, h.payments.initReq.DeviceWallet)

	code, body := h.do(t, http.MethodPost, "/payments/wallet/sessions/s-1/validate", map[string]any{"validationURL": "https://apple-pay-gateway.apple.com/paymentservices/startSession"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "m-1", body["merchantSessionIdentifier"])

	h.payments.walletErr = payment.ErrInvalidValidationURL
	code, _ = h.do(t, http.MethodPost, "/payments/wallet/sessions/s-1/validate", map[string]any{"validationURL": "https://evil.example"})
	assert.Equal(t, http.StatusBadRequest, code)

	h.payments.walletErr = service.ErrWalletSessionNotFound
	code, _ = h.do(t, http.MethodPost, "/payments/wallet/sessions/s-2/cancel", nil)
	assert.Equal(t, http.StatusNotFound, code)

	h.payments.walletErr = fmt.Errorf("%w: s-1 already resolved", payment.ErrSessionState)
	code, _ = h.do(t, http.MethodPost, "/payments/wallet/sessions/s-1/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestWebhookStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		sig  string
		res  service.ReconcileResult
		err  error
		want int
	}{
		{"bad signature", "forged", "", nil, http.StatusBadRequest},
		{"confirmed", "valid", service.ResultConfirmed, nil, http.StatusOK},
		{"duplicate", "valid", service.ResultDuplicate, nil, http.StatusOK},
		{"ignored", "valid", service.ResultIgnored, nil, http.StatusOK},
		{"malformed", "valid", "", fmt.Errorf("%w: unexpected end of JSON input", service.ErrMalformedEvent), http.StatusBadRequest},
		{"integrity", "valid", "", fmt.Errorf("%w: got 1.00 GBP", service.ErrIntegrity), http.StatusConflict},
		{"unknown order", "valid", "", service.ErrOrderNotFound, http.StatusNotFound},
		{"store failure", "valid", "", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, path := range []string{"/payments/hosted-session/webhook", "/payments/bank-transfer/webhook"} {
		for _, tc := range cases {
			t.Run(path+"/"+tc.name, func(t *testing.T) {
				h := newHarness(t)
				h.payments.eventRes, h.payments.eventErr = tc.res, tc.err

				header := payment.HostedSignatureHeader
				if path == "/payments/bank-transfer/webhook" {
					header = payment.BankSignatureHeader
				}
				code, body := h.do(t, http.MethodPost, path, `{"type":"checkout.session.completed"}`, header, tc.sig)
				assert.Equal(t, tc.want, code)

				if tc.sig != "valid" {
					assert.Zero(t, h.payments.events, "handler must not run on a bad signature")
					return
				}
				assert.Equal(t, 1, h.payments.events)
				if tc.want == http.StatusOK {
					assert.Equal(t, true, body["received"])
					assert.Equal(t, string(tc.res), body["result"])
					return
				}
				assert.Equal(t, http.StatusText(tc.want), body["error"])
			})
		}
	}
}

func TestWebhookErrorsCarryNoOrderDetails(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: got 1.00 GBP, expected 60.00 GBP", service.ErrIntegrity), http.StatusConflict},
		{fmt.Errorf("%w: DLX1700000000123 has no bank transfer session DLX_ref", service.ErrIntegrity), http.StatusConflict},
		{fmt.Errorf("%w: DLX1700000000123", service.ErrOrderNotFound), http.StatusNotFound},
	}
	for _, tc := range cases {
		h := newHarness(t)
		h.payments.eventErr = tc.err

		req := httptest.NewRequest(http.MethodPost, "/payments/hosted-session/webhook", bytes.NewBufferString(`{}`))
		req.Header.Set(payment.HostedSignatureHeader, "valid")
		w := httptest.NewRecorder()
		h.engine.ServeHTTP(w, req)

		assert.Equal(t, tc.want, w.Code)
		raw := w.Body.String()
		assert.JSONEq(t, `{"error":"`+http.StatusText(tc.want)+`"}`, raw)
		for _, leak := range []string{"60.00", "1.00", "GBP", "DLX"} {
			assert.NotContains(t, raw, leak)
		}
	}
}

func TestReturn(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodGet, "/checkout/return?orderId=bad&success=true", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	id := uuid.New()
	code, body := h.do(t, http.MethodGet, "/checkout/return?orderId="+id.String()+"&orderNumber=DLX9&cancelled=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["cancelled"])
	assert.Equal(t, id, h.payments.returnQ.OrderID)
	assert.Equal(t, "DLX9", h.payments.returnQ.OrderNumber)
	assert.True(t, h.payments.returnQ.Cancelled)
	assert.False(t, h.payments.returnQ.Success)

	code, _ = h.do(t, http.MethodGet, "/checkout/return?orderId="+id.String()+"&success=true&token=5O190127TN364715T&PayerID=QYR5Z8XDVJNXQ", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, h.payments.returnQ.Success)
	assert.Equal(t, "5O190127TN364715T", h.payments.returnQ.Token)
}
