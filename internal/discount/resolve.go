package discount

// TargetKind describes how a promo resolution should be applied.
type TargetKind int

const (
	// TargetNone means no bag line should receive the promo.
	TargetNone TargetKind = iota
	// TargetSingle means exactly one line receives a single-use promo.
	TargetSingle
	// TargetMany means a recurring promo applies to every listed line.
	TargetMany
)

func (k TargetKind) String() string {
	switch k {
	case TargetSingle:
		return "single"
	case TargetMany:
		return "many"
	default:
		return "none"
	}
}

// Target is the outcome of Resolve.
type Target struct {
	Kind        TargetKind
	LineItemIDs []int64
}

// Single returns the line id of a single-use target.
func (t Target) Single() (int64, bool) {
	if t.Kind != TargetSingle || len(t.LineItemIDs) == 0 {
		return 0, false
	}
	return t.LineItemIDs[0], true
}

type accumulator struct {
	totalDiscountableQuantity int
	items                     []OrderLineItem
}

// Resolve decides which priced line items a promo applies to.
//
// When the promo is not valid at the current location nothing is returned.
// Recurring promos apply to every discountable line. Single-use promos apply
// only when exactly one discountable unit exists across the order.
func Resolve(items []OrderLineItem, locationApplicable, recurring bool) Target {
	if !locationApplicable {
		return Target{Kind: TargetNone}
	}

	acc := accumulator{items: []OrderLineItem{}}
	for _, item := range items {
		if item.eligible() {
			acc.totalDiscountableQuantity += item.DiscountableQuantity
			acc.items = append(acc.items, item)
			continue
		}
		child, ok := firstEligibleChild(item.ChildItems)
		if !ok {
			continue
		}
		if child.DiscountableQuantity != 0 {
			acc.totalDiscountableQuantity += child.DiscountableQuantity
		}
		acc.items = append(acc.items, item)
	}

	if recurring {
		ids := make([]int64, 0, len(acc.items))
		for _, it := range acc.items {
			ids = append(ids, it.LineItemID)
		}
		return Target{Kind: TargetMany, LineItemIDs: ids}
	}

	// ambiguous: more than one unit could absorb a single-use promo
	if acc.totalDiscountableQuantity > 1 {
		return Target{Kind: TargetNone}
	}
	if len(acc.items) == 0 {
		return Target{Kind: TargetNone}
	}
	return Target{Kind: TargetSingle, LineItemIDs: []int64{acc.items[0].LineItemID}}
}

func firstEligibleChild(children []ChildItem) (ChildItem, bool) {
	for _, c := range children {
		if c.eligible() {
			return c, true
		}
	}
	return ChildItem{}, false
}
