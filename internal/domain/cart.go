package domain

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// ProductSnapshot is the catalog data copied into the cart; prices are in the
// base currency.
type ProductSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

type CartLine struct {
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
	Length   string          `json:"selectedLength,omitempty"`
	Color    string          `json:"selectedColor,omitempty"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	Lines map[string]*CartLine `json:"lines"`
}

func NewCart() *Cart {
	return &Cart{Lines: make(map[string]*CartLine)}
}

// Add increments an existing line or creates a new one.
func (c *Cart) Add(p ProductSnapshot, qty int, length, color string) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if c.Lines == nil {
		c.Lines = make(map[string]*CartLine)
	}
	if line, ok := c.Lines[p.ID]; ok {
		line.Quantity += qty
		line.Product = p
		if length != "" {
			line.Length = length
		}
		if color != "" {
			line.Color = color
		}
		return nil
	}
	c.Lines[p.ID] = &CartLine{Product: p, Quantity: qty, Length: length, Color: color}
	return nil
}

// UpdateQuantity sets the quantity of a line; zero or less removes it.
func (c *Cart) UpdateQuantity(productID string, qty int) {
	if qty <= 0 {
		c.Remove(productID)
		return
	}
	if line, ok := c.Lines[productID]; ok {
		line.Quantity = qty
	}
}

func (c *Cart) Remove(productID string) {
	delete(c.Lines, productID)
}

func (c *Cart) Clear() {
	c.Lines = make(map[string]*CartLine)
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Items returns the lines ordered by product id.
func (c *Cart) Items() []CartLine {
	out := make([]CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product.ID < out[j].Product.ID })
	return out
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}
