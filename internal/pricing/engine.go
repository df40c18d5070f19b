package pricing

import "github.com/noah-isme/backend-rewards/internal/discount"

// Money represents a monetary value stored in minor units.
type Money = int64

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Tax      Money `json:"tax"`
	Shipping Money `json:"shipping"`
	Total    Money `json:"total"`
}

// FromBagItems converts bag lines into pricing items. The unit price includes
// selected modifiers.
func FromBagItems(items []discount.BagItem) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, Item{Qty: it.Quantity, UnitPrice: UnitPrice(it.ItemDetails)})
	}
	return out
}

// UnitPrice returns the price of one unit of the item including modifiers.
func UnitPrice(d discount.ItemDetails) Money {
	price := d.Price
	for _, g := range d.ModifierGroups {
		for _, m := range g.Modifiers {
			qty := m.Quantity
			if qty <= 0 {
				qty = 1
			}
			price += m.Price * Money(qty)
		}
	}
	return price
}

// Compute calculates bag totals given the provided inputs.
func Compute(items []Item, discount Money, taxBps int, shipping Money) Summary {
	var subtotal Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	taxable := subtotal - discount
	tax := (taxable * Money(taxBps)) / 10000
	total := taxable + tax + shipping
	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
	}
}
