package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/appstate"
	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/config"
	"github.com/dejidee0/Dimplesluxe/internal/database"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/events"
	"github.com/dejidee0/Dimplesluxe/internal/exchange"
	"github.com/dejidee0/Dimplesluxe/internal/infrastructure/payment"
	"github.com/dejidee0/Dimplesluxe/internal/repo"
	"github.com/dejidee0/Dimplesluxe/internal/service"
	"github.com/dejidee0/Dimplesluxe/internal/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	orderCount    = 18
	hostedSecret  = "whsec_sandbox"
	bankSecret    = "sk_sandbox_bank"
	storefrontURL = "https://dimplesluxe.example"
)

var catalog = []domain.ProductSnapshot{
	{ID: "bone-straight-18", Name: "Bone Straight 18in", Slug: "bone-straight-18", Price: decimal.RequireFromString("34.99")},
	{ID: "deep-wave-22", Name: "Deep Wave 22in", Slug: "deep-wave-22", Price: decimal.RequireFromString("52.00")},
	{ID: "closure-5x5", Name: "HD Closure 5x5", Slug: "closure-5x5", Price: decimal.RequireFromString("19.50")},
}

type scenario struct {
	name     string
	country  string
	provider domain.Provider
}

var scenarios = []scenario{
	{"card, hosted page", "GB", domain.ProviderHostedSession},
	{"account approval", "US", domain.ProviderApproveCapture},
	{"naira bank transfer", "NG", domain.ProviderBankTransfer},
	{"device wallet", "GB", domain.ProviderOnDeviceWallet},
}

type sim struct {
	checkout service.CheckoutService
	payments service.PaymentService
	sessions *appstate.Manager
	sandbox  *payment.Sandbox
	sbURL    string
	hosted   *payment.HostedSession
	bank     *payment.BankTransfer
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	ctx := context.Background()
	cfg := config.Load()

	db, err := database.Open(ctx, database.DSN(cfg.DB))
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	sandbox := payment.NewSandbox(hostedSecret, bankSecret)
	srv := httptest.NewTLSServer(sandbox)
	defer srv.Close()
	sandbox.BaseURL = srv.URL

	// no live sources: rates come from the fallback table
	rates := exchange.NewService(exchange.NewMemoryCache())
	sessions := appstate.NewManager(appstate.NewMemoryStore(), rates)

	publisher := events.NewLocalPublisher()
	publisher.Subscribe(sessions.OnStatusChanged)
	publisher.Subscribe(func(_ context.Context, evt events.OrderStatusChanged) error {
		fmt.Printf("    event: %s %s -> %s\n", evt.OrderNumber, evt.From, evt.To)
		return nil
	})

	hosted := payment.NewHostedSession(payment.HostedSessionConfig{
		APIBase: srv.URL, SecretKey: "sk_sandbox_hosted", WebhookSecret: hostedSecret, Client: srv.Client(),
	})
	approve := payment.NewApproveCapture(payment.ApproveCaptureConfig{
		APIBase: srv.URL, ClientID: "sandbox-client", Secret: "sandbox-secret", BrandName: "Dimplesluxe", Client: srv.Client(),
	})
	bank := payment.NewBankTransfer(payment.BankTransferConfig{
		APIBase: srv.URL, SecretKey: bankSecret, Client: srv.Client(), Rates: rates,
	})
	wallet := payment.NewWallet(payment.WalletConfig{
		MerchantID:        "merchant.example.dimplesluxe",
		DisplayName:       "Dimplesluxe",
		InitiativeContext: "dimplesluxe.example",
		ProcessorURL:      srv.URL + "/wallet/charge",
		AllowedHosts:      []string{"127.0.0.1"},
		Client:            srv.Client(),
	})

	orderRepo := repo.NewOrderRepo(db)
	paymentRepo := repo.NewPaymentRepo(db)
	reconciler := service.NewReconciler(db, orderRepo, paymentRepo, publisher)

	s := &sim{
		checkout: service.NewCheckoutService(db, orderRepo, paymentRepo, rates, ""),
		payments: service.NewPaymentService(orderRepo, reconciler, storefrontURL, hosted, approve, bank, wallet),
		sessions: sessions,
		sandbox:  sandbox,
		sbURL:    srv.URL,
		hosted:   hosted,
		bank:     bank,
	}

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", orderCount)
	var placed []uuid.UUID
	for i := 0; i < orderCount; i++ {
		sc := scenarios[i%len(scenarios)]
		fmt.Printf("[%d] %s\n", i+1, sc.name)

		order, err := s.run(ctx, sc, i)
		if err != nil {
			fmt.Printf("    FAILED: %v\n", err)
		}
		if order != nil {
			placed = append(placed, order.ID)
			if fresh, err := orderRepo.FindById(ctx, order.ID); err == nil && fresh != nil {
				fmt.Printf("    -> DB Status: %s\n", fresh.Status)
			}
		}
		fmt.Println("---------------------------------------------------")
		time.Sleep(50 * time.Millisecond)
	}

	// Delayed bank transfers are still pending; the poller settles them.
	fmt.Println("--- STARTING BANK TRANSFER POLLER ---")
	pollCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	poller := worker.NewReconciliationWorker(orderRepo, s.payments, 500*time.Millisecond, 0)
	poller.Run(pollCtx)

	summary := map[domain.OrderStatus]int{}
	for _, id := range placed {
		if o, err := orderRepo.FindById(ctx, id); err == nil && o != nil {
			summary[o.Status]++
		}
	}
	fmt.Printf("--- SUMMARY: %d confirmed, %d pending, %d failed, %d cancelled ---\n",
		summary[domain.OrderConfirmed], summary[domain.OrderPending],
		summary[domain.OrderFailed], summary[domain.OrderCancelled])
}

// run plays one customer: cart, order, payment, and the racing confirmation
// paths for that provider.
func (s *sim) run(ctx context.Context, sc scenario, i int) (*domain.Order, error) {
	st, err := s.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	for j := 0; j <= i%len(catalog); j++ {
		if _, err := s.sessions.AddItem(ctx, st.ID, catalog[j], 1+j%2, "", ""); err != nil {
			return nil, err
		}
	}
	if st, err = s.sessions.SetBillingCountry(ctx, st.ID, sc.country); err != nil {
		return nil, err
	}
	if sc.provider == domain.ProviderOnDeviceWallet {
		if st, err = s.sessions.SetDeviceWallet(ctx, st.ID, true); err != nil {
			return nil, err
		}
	}
	if st, err = s.sessions.SelectMethod(ctx, st.ID, sc.provider); err != nil {
		return nil, err
	}

	order, err := s.checkout.PlaceOrder(ctx, service.CheckoutRequest{
		Lines:    st.Cart.Items(),
		Currency: st.Currency,
		Rate:     st.ExchangeRate,
		Form: checkout.Form{
			Customer:       domain.Customer{FirstName: "Sim", LastName: fmt.Sprintf("Customer%d", i+1), Email: fmt.Sprintf("sim%d@example.com", i+1), Phone: "+447700900000"},
			Billing:        domain.Address{Line1: "1 Sandbox Way", City: "Testville", Postcode: "T1 1ST", Country: sc.country},
			SameAsBilling:  true,
			ShippingMethod: st.ShippingMethod,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := s.sessions.TrackOrder(ctx, st.ID, order.ID); err != nil {
		return order, err
	}
	fmt.Printf("    order %s: %s %s\n", order.Number, checkout.FormatMajor(order.Total), order.Currency)

	started, err := s.payments.Initialize(ctx, service.InitializeRequest{
		OrderID:      order.ID,
		Provider:     sc.provider,
		DeviceWallet: sc.provider == domain.ProviderOnDeviceWallet,
	})
	if err != nil {
		return order, err
	}

	switch sc.provider {
	case domain.ProviderHostedSession:
		err = s.hostedFlow(ctx, order, started)
	case domain.ProviderApproveCapture:
		err = s.approveFlow(ctx, order, started)
	case domain.ProviderBankTransfer:
		err = s.bankFlow(ctx, order, started)
	case domain.ProviderOnDeviceWallet:
		err = s.walletFlow(ctx, started)
	}
	if err != nil {
		return order, err
	}

	if st, err = s.sessions.Get(ctx, st.ID); err == nil {
		fmt.Printf("    cart items left: %d\n", st.Cart.ItemCount())
	}
	return order, nil
}

// hostedFlow delivers the webhook twice while the customer lands on the
// return page. Only one delivery may confirm the order.
func (s *sim) hostedFlow(ctx context.Context, order *domain.Order, started *payment.Initiation) error {
	body, sig, outcome, err := s.sandbox.CompleteHostedSession(started.SessionID)
	if err != nil {
		return err
	}
	fmt.Printf("    processor: %s\n", outcome)

	var wg sync.WaitGroup
	for n := 0; n < 2; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := s.hosted.VerifyWebhook(sig, body); err != nil {
				fmt.Printf("    webhook #%d rejected: %v\n", n+1, err)
				return
			}
			res, err := s.payments.HandleHostedEvent(ctx, body)
			if err != nil {
				fmt.Printf("    webhook #%d error: %v\n", n+1, err)
				return
			}
			fmt.Printf("    webhook #%d: %s\n", n+1, res)
		}(n)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ret, err := s.payments.ResolveReturn(ctx, service.ReturnQuery{OrderID: order.ID, Success: outcome != payment.SandboxDeclines})
		if err != nil {
			fmt.Printf("    return page error: %v\n", err)
			return
		}
		fmt.Printf("    return page sees: %s\n", ret.Order.Status)
	}()
	wg.Wait()
	return nil
}

// approveFlow plays the customer approving, then landing on the return page
// twice. Both returns capture; the order is confirmed once.
func (s *sim) approveFlow(ctx context.Context, order *domain.Order, started *payment.Initiation) error {
	outcome, err := s.sandbox.ApproveOrder(started.Reference)
	if err != nil {
		return err
	}
	fmt.Printf("    account server: %s\n", outcome)

	var wg sync.WaitGroup
	for n := 0; n < 2; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ret, err := s.payments.ResolveReturn(ctx, service.ReturnQuery{OrderID: order.ID, Success: true, Token: started.Reference})
			if err != nil {
				fmt.Printf("    return #%d error: %v\n", n+1, err)
				return
			}
			if ret.Verified != nil {
				fmt.Printf("    return #%d capture: %s (%s)\n", n+1, ret.Verified.Outcome.Status, ret.Verified.Result)
				return
			}
			fmt.Printf("    return #%d sees: %s\n", n+1, ret.Order.Status)
		}(n)
	}
	wg.Wait()
	return nil
}

// bankFlow races the return-page verification against the processor webhook.
// Delayed transfers stay pending until the poller verifies them again.
func (s *sim) bankFlow(ctx context.Context, order *domain.Order, started *payment.Initiation) error {
	outcome, err := s.sandbox.CompleteBankTransfer(started.Reference)
	if err != nil {
		return err
	}
	fmt.Printf("    processor: %s (%d kobo)\n", outcome, started.AmountMinor)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ret, err := s.payments.ResolveReturn(ctx, service.ReturnQuery{OrderNumber: order.Number, Success: true})
		if err != nil {
			fmt.Printf("    return page error: %v\n", err)
			return
		}
		if ret.Verified != nil {
			fmt.Printf("    return verify: %s\n", ret.Verified.Result)
		}
	}()
	go func() {
		defer wg.Done()
		if outcome == payment.SandboxDelayed {
			// the processor has nothing final to send yet
			return
		}
		body, sig, err := s.sandbox.BankWebhook(started.Reference)
		if err != nil {
			fmt.Printf("    webhook error: %v\n", err)
			return
		}
		if err := s.bank.VerifyWebhook(sig, body); err != nil {
			fmt.Printf("    webhook rejected: %v\n", err)
			return
		}
		res, err := s.payments.HandleBankEvent(ctx, body)
		if err != nil {
			fmt.Printf("    webhook error: %v\n", err)
			return
		}
		fmt.Printf("    webhook: %s\n", res)
	}()
	wg.Wait()
	return nil
}

func (s *sim) walletFlow(ctx context.Context, started *payment.Initiation) error {
	if _, err := s.payments.ValidateWallet(ctx, started.SessionID, s.sbURL+"/wallet/validate"); err != nil {
		return err
	}
	token, _ := json.Marshal(map[string]string{"paymentData": uuid.NewString()})
	res, err := s.payments.AuthorizeWallet(ctx, started.SessionID, token)
	if err != nil {
		return err
	}
	fmt.Printf("    wallet charge: %s (%s)\n", res.Outcome.Status, res.Result)
	return nil
}
