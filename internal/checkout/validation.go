package checkout

import (
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
)

var (
	ErrEmptyCart    = errors.New("cart is empty")
	ErrInvalidTotal = errors.New("order total must be greater than zero")
)

// ValidationError maps form field names to user-facing messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("invalid checkout form: %s", strings.Join(keys, ", "))
}

// Form is the contact and address input collected at checkout.
type Form struct {
	Customer       domain.Customer
	Billing        domain.Address
	Shipping       domain.Address
	SameAsBilling  bool
	ShippingMethod domain.ShippingMethod
}

// ShippingAddress resolves the address goods are sent to.
func (f Form) ShippingAddress() domain.Address {
	if f.SameAsBilling {
		return f.Billing
	}
	addr := f.Shipping
	if strings.TrimSpace(addr.Country) == "" {
		addr.Country = f.Billing.Country
	}
	return addr
}

// Validate checks required fields. It returns a *ValidationError listing
// every missing or malformed field.
func (f Form) Validate() error {
	fields := make(map[string]string)
	required := func(key, value, msg string) {
		if strings.TrimSpace(value) == "" {
			fields[key] = msg
		}
	}

	required("email", f.Customer.Email, "Email is required")
	if _, ok := fields["email"]; !ok {
		if _, err := mail.ParseAddress(f.Customer.Email); err != nil {
			fields["email"] = "Email is invalid"
		}
	}
	required("firstName", f.Customer.FirstName, "First name is required")
	required("lastName", f.Customer.LastName, "Last name is required")
	required("phone", f.Customer.Phone, "Phone number is required")

	required("billingAddress", f.Billing.Line1, "Address is required")
	required("billingCity", f.Billing.City, "City is required")
	required("billingPostcode", f.Billing.Postcode, "Postcode is required")
	required("billingCountry", f.Billing.Country, "Country is required")

	if !f.SameAsBilling {
		required("shippingAddress", f.Shipping.Line1, "Shipping address is required")
		required("shippingCity", f.Shipping.City, "Shipping city is required")
		required("shippingPostcode", f.Shipping.Postcode, "Shipping postcode is required")
	}

	if f.ShippingMethod != "" && !f.ShippingMethod.Valid() {
		fields["shippingMethod"] = "Shipping method is invalid"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
