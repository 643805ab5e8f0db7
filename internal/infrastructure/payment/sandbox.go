package payment

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SandboxOutcome int

const (
	SandboxSucceeds SandboxOutcome = iota
	SandboxDeclines
	// SandboxDelayed charges the customer but reports the result late: the
	// first verification still sees the transaction as ongoing.
	SandboxDelayed
)

func (o SandboxOutcome) String() string {
	switch o {
	case SandboxSucceeds:
		return "succeeds"
	case SandboxDeclines:
		return "declines"
	case SandboxDelayed:
		return "delayed"
	}
	return "unknown"
}

// RandomOutcome rolls 70% success, 20% decline and 10% delayed success.
func RandomOutcome() SandboxOutcome {
	chance := rand.IntN(100)
	switch {
	case chance < 70:
		return SandboxSucceeds
	case chance < 90:
		return SandboxDeclines
	default:
		return SandboxDelayed
	}
}

type sandboxSession struct {
	ID          string
	Currency    string
	AmountTotal decimal.Decimal
	Metadata    map[string]string
	Completed   bool
}

type sandboxTransaction struct {
	Reference string
	Amount    int64
	Currency  string
	Metadata  json.RawMessage
	Status    string
	Verified  int
	Outcome   SandboxOutcome
}

// Sandbox is an in-process stand-in for the four provider APIs. It keeps
// every session and transaction in memory and can emit signed webhooks.
type Sandbox struct {
	mu           sync.RWMutex
	hostedSecret string
	bankSecret   string
	sessions     map[string]*sandboxSession
	idempotent   map[string]string
	transactions map[string]*sandboxTransaction
	approvals    map[string]*sandboxApproval
	accessTokens map[string]bool
	outcome      func() SandboxOutcome
	mux          *http.ServeMux
	BaseURL      string
}

func NewSandbox(hostedWebhookSecret, bankSecret string) *Sandbox {
	s := &Sandbox{
		hostedSecret: hostedWebhookSecret,
		bankSecret:   bankSecret,
		sessions:     make(map[string]*sandboxSession),
		idempotent:   make(map[string]string),
		transactions: make(map[string]*sandboxTransaction),
		approvals:    make(map[string]*sandboxApproval),
		accessTokens: make(map[string]bool),
		outcome:      RandomOutcome,
		mux:          http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/checkout/sessions", s.createSession)
	s.mux.HandleFunc("POST /transaction/initialize", s.initializeTransaction)
	s.mux.HandleFunc("GET /transaction/verify/{reference}", s.verifyTransaction)
	s.mux.HandleFunc("POST /wallet/validate", s.validateMerchant)
	s.mux.HandleFunc("POST /wallet/charge", s.chargeWallet)
	s.mux.HandleFunc("POST /v1/oauth2/token", s.issueAccessToken)
	s.mux.HandleFunc("POST /v2/checkout/orders", s.createApproval)
	s.mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", s.captureApproval)
	return s
}

// SetOutcome replaces the outcome roll.
func (s *Sandbox) SetOutcome(fn func() SandboxOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = fn
}

func (s *Sandbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Sandbox) createSession(w http.ResponseWriter, r *http.Request) {
	var req hostedSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": err.Error()}})
		return
	}
	total, err := decimal.NewFromString(req.AmountTotal)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "invalid amount_total"}})
		return
	}

	key := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.idempotent[key]; ok && key != "" {
		writeJSON(w, http.StatusOK, hostedSessionResponse{ID: id, URL: s.BaseURL + "/pay/" + id})
		return
	}
	id := "cs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.sessions[id] = &sandboxSession{ID: id, Currency: req.Currency, AmountTotal: total, Metadata: req.Metadata}
	if key != "" {
		s.idempotent[key] = id
	}
	writeJSON(w, http.StatusOK, hostedSessionResponse{ID: id, URL: s.BaseURL + "/pay/" + id})
}

// CompleteHostedSession plays the customer paying on the hosted page and
// returns the webhook the processor would deliver, with its signature.
func (s *Sandbox) CompleteHostedSession(sessionID string) (body []byte, signature string, outcome SandboxOutcome, err error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, "", 0, fmt.Errorf("unknown session %s", sessionID)
	}
	outcome = s.outcome()
	sess.Completed = outcome != SandboxDeclines
	s.mu.Unlock()

	amount := sess.AmountTotal.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	pi := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]

	var event map[string]any
	if outcome == SandboxDeclines {
		event = map[string]any{
			"id":   "evt_" + uuid.NewString(),
			"type": "payment_intent.payment_failed",
			"data": map[string]any{"object": map[string]any{
				"id":                 pi,
				"amount":             amount,
				"currency":           strings.ToLower(sess.Currency),
				"metadata":           sess.Metadata,
				"last_payment_error": map[string]string{"message": "Your card was declined."},
			}},
		}
	} else {
		event = map[string]any{
			"id":   "evt_" + uuid.NewString(),
			"type": "checkout.session.completed",
			"data": map[string]any{"object": map[string]any{
				"id":             sess.ID,
				"payment_intent": pi,
				"payment_status": "paid",
				"amount_total":   amount,
				"currency":       strings.ToLower(sess.Currency),
				"metadata":       sess.Metadata,
			}},
		}
	}

	body, err = json.Marshal(event)
	if err != nil {
		return nil, "", 0, err
	}
	return body, SignHostedPayload(s.hostedSecret, body, time.Now()), outcome, nil
}

func (s *Sandbox) initializeTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    int64           `json:"amount"`
		Currency  string          `json:"currency"`
		Reference string          `json:"reference"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": false, "message": "invalid transaction"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[req.Reference]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": false, "message": "Duplicate Transaction Reference"})
		return
	}
	s.transactions[req.Reference] = &sandboxTransaction{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Metadata:  req.Metadata,
		// the processor reports an unpaid checkout page as abandoned
		Status: "abandoned",
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  true,
		"message": "Authorization URL created",
		"data": map[string]string{
			"authorization_url": s.BaseURL + "/authorize/" + req.Reference,
			"access_code":       uuid.NewString()[:12],
			"reference":         req.Reference,
		},
	})
}

// CompleteBankTransfer plays the customer finishing the transfer. Delayed
// outcomes stay ongoing for the first verification.
func (s *Sandbox) CompleteBankTransfer(reference string) (SandboxOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[reference]
	if !ok {
		return 0, fmt.Errorf("unknown transaction %s", reference)
	}
	tx.Outcome = s.outcome()
	tx.Verified = 0
	switch tx.Outcome {
	case SandboxSucceeds:
		tx.Status = "success"
	case SandboxDeclines:
		tx.Status = "failed"
	case SandboxDelayed:
		tx.Status = "ongoing"
	}
	return tx.Outcome, nil
}

func (s *Sandbox) transactionJSON(tx *sandboxTransaction) map[string]any {
	gateway := "Approved"
	if tx.Status == "failed" {
		gateway = "Declined"
	}
	return map[string]any{
		"status":           tx.Status,
		"reference":        tx.Reference,
		"amount":           tx.Amount,
		"currency":         tx.Currency,
		"channel":          "bank_transfer",
		"gateway_response": gateway,
		"metadata":         tx.Metadata,
	}
}

func (s *Sandbox) verifyTransaction(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("reference")

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[ref]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": false, "message": "Transaction reference not found"})
		return
	}
	tx.Verified++
	if tx.Outcome == SandboxDelayed && tx.Verified > 1 {
		tx.Status = "success"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  true,
		"message": "Verification successful",
		"data":    s.transactionJSON(tx),
	})
}

// BankWebhook returns a signed charge event for the transaction's current state.
func (s *Sandbox) BankWebhook(reference string) (body []byte, signature string, err error) {
	s.mu.RLock()
	tx, ok := s.transactions[reference]
	if !ok {
		s.mu.RUnlock()
		return nil, "", fmt.Errorf("unknown transaction %s", reference)
	}
	event := "charge.success"
	if tx.Status == "failed" {
		event = "charge.failed"
	}
	data := s.transactionJSON(tx)
	s.mu.RUnlock()

	body, err = json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		return nil, "", err
	}
	return body, SignBankPayload(s.bankSecret, body), nil
}

func (s *Sandbox) validateMerchant(w http.ResponseWriter, r *http.Request) {
	var req merchantValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MerchantIdentifier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid merchant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"merchantIdentifier":        req.MerchantIdentifier,
		"displayName":               req.DisplayName,
		"merchantSessionIdentifier": uuid.NewString(),
		"epochTimestamp":            time.Now().UnixMilli(),
		"expiresAt":                 time.Now().Add(5 * time.Minute).UnixMilli(),
	})
}

func (s *Sandbox) chargeWallet(w http.ResponseWriter, r *http.Request) {
	var req walletChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Token) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid token"})
		return
	}

	key := r.Header.Get("Idempotency-Key")
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.idempotent[key]; ok && key != "" {
		writeJSON(w, http.StatusOK, walletChargeResponse{ID: id, Status: "succeeded", Amount: req.Amount, Currency: req.Currency})
		return
	}

	id := "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	if s.outcome() == SandboxDeclines {
		writeJSON(w, http.StatusOK, walletChargeResponse{ID: id, Status: "declined", FailureMessage: "Card declined"})
		return
	}
	if key != "" {
		s.idempotent[key] = id
	}
	writeJSON(w, http.StatusOK, walletChargeResponse{ID: id, Status: "succeeded", Amount: req.Amount, Currency: req.Currency})
}
