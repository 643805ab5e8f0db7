package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type sandboxApproval struct {
	ID       string
	Unit     purchaseUnit
	Approved bool
	Outcome  SandboxOutcome
	Captures int
	Captured *captureResponse
}

func (s *Sandbox) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ok && s.accessTokens[token]
}

func (s *Sandbox) issueAccessToken(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id == "" || secret == "" || r.FormValue("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client", "message": "Client Authentication failed"})
		return
	}
	token := "A21AA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	s.accessTokens[token] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresIn: 32400})
}

func (s *Sandbox) createApproval(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Intent != "CAPTURE" || len(req.PurchaseUnits) != 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "INVALID_REQUEST"})
		return
	}

	key := r.Header.Get(RequestIDHeader)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idempotent[key]
	if !ok || key == "" {
		id = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:17])
		s.approvals[id] = &sandboxApproval{ID: id, Unit: req.PurchaseUnits[0]}
		if key != "" {
			s.idempotent[key] = id
		}
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		ID:     id,
		Status: "CREATED",
		Links: []link{
			{Href: s.BaseURL + "/v2/checkout/orders/" + id, Rel: "self", Method: "GET"},
			{Href: s.BaseURL + "/checkoutnow?token=" + id, Rel: "approve", Method: "GET"},
			{Href: s.BaseURL + "/v2/checkout/orders/" + id + "/capture", Rel: "capture", Method: "POST"},
		},
	})
}

// ApproveOrder plays the customer approving the payment in their account and
// rolls how the capture will go.
func (s *Sandbox) ApproveOrder(id string) (SandboxOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return 0, fmt.Errorf("unknown approval %s", id)
	}
	a.Approved = true
	a.Outcome = s.outcome()
	return a.Outcome, nil
}

// captureApproval answers a repeated request id with the first capture.
// Delayed outcomes report PENDING until captured again.
func (s *Sandbox) captureApproval(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "RESOURCE_NOT_FOUND"})
		return
	}
	if !a.Approved {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "ORDER_NOT_APPROVED"})
		return
	}
	a.Captures++
	if a.Captured != nil && a.Captured.PurchaseUnits[0].Payments.Captures[0].Status != "PENDING" {
		writeJSON(w, http.StatusCreated, a.Captured)
		return
	}

	status := "COMPLETED"
	switch {
	case a.Outcome == SandboxDeclines:
		status = "DECLINED"
	case a.Outcome == SandboxDelayed && a.Captures == 1:
		status = "PENDING"
	}
	captureID := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:17])
	if a.Captured != nil {
		captureID = a.Captured.PurchaseUnits[0].Payments.Captures[0].ID
	}

	unit := capturedUnit{ReferenceID: a.Unit.ReferenceID, CustomID: a.Unit.CustomID}
	unit.Payments.Captures = []capture{{
		ID:       captureID,
		Status:   status,
		Amount:   money{CurrencyCode: a.Unit.Amount.CurrencyCode, Value: a.Unit.Amount.Value},
		CustomID: a.Unit.CustomID,
	}}
	resp := &captureResponse{ID: a.ID, Status: "COMPLETED", PurchaseUnits: []capturedUnit{unit}}
	a.Captured = resp
	writeJSON(w, http.StatusCreated, resp)
}
