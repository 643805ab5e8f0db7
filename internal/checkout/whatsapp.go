package checkout

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
)

// WhatsAppLink returns a wa.me link that opens a chat with the shop,
// prefilled with the order so the customer can confirm delivery. It returns
// "" when number has no digits.
func WhatsAppLink(number string, o *domain.Order) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, number)
	if digits == "" || o == nil {
		return ""
	}
	q := url.Values{"text": {whatsAppMessage(o)}}
	return "https://wa.me/" + digits + "?" + q.Encode()
}

func whatsAppMessage(o *domain.Order) string {
	var b strings.Builder
	b.WriteString("Hello Dimplesluxe!\n\n")
	b.WriteString("I've just placed an order and would like to confirm delivery details:\n\n")

	b.WriteString("*Order Information:*\n")
	fmt.Fprintf(&b, "Order Number: %s\n", o.Number)
	fmt.Fprintf(&b, "Customer Name: %s\n", o.Customer.Name())
	fmt.Fprintf(&b, "Email: %s\n", o.Customer.Email)
	fmt.Fprintf(&b, "Phone: %s\n\n", o.Customer.Phone)

	addr := o.Shipping
	if addr.Line1 == "" {
		addr = o.Billing
	}
	b.WriteString("*Delivery Address:*\n")
	b.WriteString(addr.Line1 + "\n")
	if addr.Line2 != "" {
		b.WriteString(addr.Line2 + "\n")
	}
	fmt.Fprintf(&b, "%s, %s\n%s\n\n", addr.City, addr.Postcode, addr.Country)

	b.WriteString("*Order Summary:*\n")
	for _, it := range o.Items {
		fmt.Fprintf(&b, "• %s (Qty: %d) - %s %s\n", it.ProductName, it.Quantity, FormatMajor(it.TotalPrice), o.Currency)
	}
	fmt.Fprintf(&b, "\nTotal: %s %s\n", FormatMajor(o.Total), o.Currency)
	if o.PaymentProvider != "" {
		fmt.Fprintf(&b, "Payment Method: %s\n", MethodName(o.PaymentProvider))
	}
	b.WriteString("\nPlease confirm delivery timeline. Thank you!")
	return b.String()
}
