package checkout

import (
	"errors"
	"slices"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
)

var (
	ErrNoPaymentMethods  = errors.New("no payment method is available for this currency and country")
	ErrMethodUnavailable = errors.New("payment method is not available for this currency and country")
)

// Currencies accepted by the hosted-session processor, the approve-capture
// account and the device wallet.
var cardCurrencies = []string{"GBP", "USD", "EUR", "CAD", "AUD"}

type MethodOption struct {
	Provider    domain.Provider `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Icon        string          `json:"icon"`
	Currencies  []string        `json:"currencies"`
}

type methodRule struct {
	option    MethodOption
	available func(currency, country string, deviceWallet bool) bool
}

// Listed in display order.
var methodRules = []methodRule{
	{
		option: MethodOption{
			Provider:    domain.ProviderHostedSession,
			Name:        "Card",
			Description: "Pay securely on the processor's hosted checkout page",
			Icon:        "card",
			Currencies:  cardCurrencies,
		},
		available: internationalCard,
	},
	{
		option: MethodOption{
			Provider:    domain.ProviderApproveCapture,
			Name:        "PayPal",
			Description: "Approve the payment in your PayPal account",
			Icon:        "paypal",
			Currencies:  cardCurrencies,
		},
		available: internationalCard,
	},
	{
		option: MethodOption{
			Provider:    domain.ProviderBankTransfer,
			Name:        "Bank transfer / Card (Nigeria)",
			Description: "Pay with Nigerian cards, bank transfer, USSD or mobile money",
			Icon:        "bank",
			Currencies:  []string{RegionalCurrency},
		},
		available: func(currency, country string, _ bool) bool {
			return currency == RegionalCurrency || country == Region
		},
	},
	{
		option: MethodOption{
			Provider:    domain.ProviderOnDeviceWallet,
			Name:        "Apple Pay",
			Description: "Pay with Touch ID or Face ID",
			Icon:        "wallet",
			Currencies:  cardCurrencies,
		},
		available: func(currency, _ string, deviceWallet bool) bool {
			return deviceWallet && currency != RegionalCurrency && slices.Contains(cardCurrencies, currency)
		},
	},
}

func internationalCard(currency, country string, _ bool) bool {
	return !(currency == RegionalCurrency && country == Region) && slices.Contains(cardCurrencies, currency)
}

// AvailableMethods lists the providers usable for the combination, in display order.
func AvailableMethods(currency, country string, deviceWallet bool) []MethodOption {
	currency = NormalizeCurrency(currency)
	country = NormalizeCountry(country)

	out := make([]MethodOption, 0, len(methodRules))
	for _, r := range methodRules {
		if r.available(currency, country, deviceWallet) {
			out = append(out, r.option)
		}
	}
	return out
}

// MethodName is the display name of provider, or the provider id when it
// has no listing.
func MethodName(provider domain.Provider) string {
	for _, r := range methodRules {
		if r.option.Provider == provider {
			return r.option.Name
		}
	}
	return string(provider)
}

// IsAvailable reports whether provider is usable for the combination.
func IsAvailable(provider domain.Provider, currency, country string, deviceWallet bool) bool {
	for _, m := range AvailableMethods(currency, country, deviceWallet) {
		if m.Provider == provider {
			return true
		}
	}
	return false
}

type MethodSelection struct {
	Available []MethodOption  `json:"methods"`
	Selected  domain.Provider `json:"selected"`
	// Changed is set when the previous selection was replaced.
	Changed bool `json:"changed"`
}

// SelectMethod keeps current when it is still available and otherwise picks
// the first available method. It returns ErrNoPaymentMethods with an empty
// selection when nothing is available.
func SelectMethod(current domain.Provider, currency, country string, deviceWallet bool) (MethodSelection, error) {
	sel := MethodSelection{Available: AvailableMethods(currency, country, deviceWallet)}
	if len(sel.Available) == 0 {
		sel.Changed = current != ""
		return sel, ErrNoPaymentMethods
	}

	for _, m := range sel.Available {
		if m.Provider == current {
			sel.Selected = current
			return sel, nil
		}
	}

	sel.Selected = sel.Available[0].Provider
	sel.Changed = current != sel.Selected
	return sel, nil
}
