package discount

// LineIDAllocator returns a line id that collides with none of the provided items.
type LineIDAllocator func(existing []BagItem) int64

// NextLineID allocates max(lineItemId)+1 across existing, starting at 1.
func NextLineID(existing []BagItem) int64 {
	var highest int64
	for _, it := range existing {
		if it.LineItemID > highest {
			highest = it.LineItemID
		}
	}
	return highest + 1
}

// Split breaks target into a quantity-1 portion that carries the promo and a
// remainder portion under a freshly allocated line id. The portions lead the
// result, followed by visible without the target's original entry.
//
// Quantity is not guarded: a target with quantity 1 yields a remainder of 0.
func Split(all, visible []BagItem, target BagItem, alloc LineIDAllocator) []BagItem {
	if alloc == nil {
		alloc = NextLineID
	}

	first := target.Clone()
	first.Quantity = 1

	remainder := target.Details()
	remainder.Quantity = target.Quantity - 1

	universe := make([]BagItem, 0, len(all)+len(visible))
	universe = append(universe, all...)
	universe = append(universe, visible...)
	second := remainder.WithLineID(alloc(universe))

	out := make([]BagItem, 0, len(visible)+2)
	out = append(out, first, second)
	for _, it := range visible {
		if it.LineItemID == target.LineItemID {
			continue
		}
		out = append(out, it.Clone())
	}
	return out
}
