package bag

import (
	"reflect"

	"github.com/noah-isme/backend-rewards/internal/discount"
)

// MergeEqualItems collapses items that differ only in quantity. The merged
// entry keeps the first line id and position and carries the summed quantity.
func MergeEqualItems(items []discount.BagItem) []discount.BagItem {
	out := make([]discount.BagItem, 0, len(items))
	for _, it := range items {
		merged := false
		for i := range out {
			if sameExceptQuantity(out[i].ItemDetails, it.ItemDetails) {
				out[i].Quantity += it.Quantity
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, it.Clone())
		}
	}
	return out
}

func sameExceptQuantity(a, b discount.ItemDetails) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(d discount.ItemDetails) discount.ItemDetails {
	d.Quantity = 0
	if len(d.ModifierGroups) == 0 {
		d.ModifierGroups = nil
	} else {
		groups := make([]discount.ModifierGroup, len(d.ModifierGroups))
		for i, g := range d.ModifierGroups {
			if len(g.Modifiers) == 0 {
				g.Modifiers = nil
			}
			groups[i] = g
		}
		d.ModifierGroups = groups
	}
	if len(d.CategoryValidity) == 0 {
		d.CategoryValidity = nil
	}
	if len(d.ChildItems) == 0 {
		d.ChildItems = nil
	}
	return d
}
