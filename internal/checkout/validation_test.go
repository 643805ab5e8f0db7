package checkout

import (
	"testing"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() Form {
	return Form{
		Customer:       domain.Customer{FirstName: "Ada", LastName: "Obi", Email: "ada@example.com", Phone: "+447000000000"},
		Billing:        domain.Address{Line1: "1 High St", City: "London", Postcode: "E1 6AN", Country: "GB"},
		SameAsBilling:  true,
		ShippingMethod: domain.ShippingStandard,
	}
}

func TestValidateAcceptsCompleteForm(t *testing.T) {
	assert.NoError(t, validForm().Validate())
}

func TestValidateReportsEveryMissingField(t *testing.T) {
	f := Form{SameAsBilling: false}

	err := f.Validate()

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	for _, key := range []string{
		"email", "firstName", "lastName", "phone",
		"billingAddress", "billingCity", "billingPostcode", "billingCountry",
		"shippingAddress", "shippingCity", "shippingPostcode",
	} {
		assert.Contains(t, verr.Fields, key)
	}
	assert.Equal(t, "Phone number is required", verr.Fields["phone"])
}

func TestValidateSkipsShippingWhenSameAsBilling(t *testing.T) {
	f := validForm()
	f.Shipping = domain.Address{}
	assert.NoError(t, f.Validate())
}

func TestValidateRejectsMalformedEmailAndMethod(t *testing.T) {
	f := validForm()
	f.Customer.Email = "not-an-email"
	f.ShippingMethod = "teleport"

	var verr *ValidationError
	require.ErrorAs(t, f.Validate(), &verr)
	assert.Equal(t, "Email is invalid", verr.Fields["email"])
	assert.Contains(t, verr.Fields, "shippingMethod")
	assert.Contains(t, verr.Error(), "email")
}

func TestShippingAddress(t *testing.T) {
	f := validForm()
	assert.Equal(t, f.Billing, f.ShippingAddress())

	f.SameAsBilling = false
	f.Shipping = domain.Address{Line1: "2 Low Rd", City: "Leeds", Postcode: "LS1"}
	got := f.ShippingAddress()
	assert.Equal(t, "2 Low Rd", got.Line1)
	assert.Equal(t, "GB", got.Country)
}
