package bag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-rewards/internal/discount"
)

func TestMergeEqualItems(t *testing.T) {
	plain := discount.ItemDetails{ProductID: "burger", Price: 899}
	cheesy := discount.ItemDetails{
		ProductID: "burger",
		Price:     899,
		ModifierGroups: []discount.ModifierGroup{{
			ProductID: "extras",
			Modifiers: []discount.Modifier{{ProductID: "cheese", Price: 100, Quantity: 1}},
		}},
	}

	withQty := func(d discount.ItemDetails, id int64, qty int) discount.BagItem {
		d.Quantity = qty
		return d.WithLineID(id)
	}

	items := []discount.BagItem{
		withQty(plain, 1, 1),
		withQty(cheesy, 2, 1),
		withQty(plain, 3, 2),
		withQty(cheesy, 4, 3),
	}
	merged := MergeEqualItems(items)
	require.Len(t, merged, 2)
	require.Equal(t, int64(1), merged[0].LineItemID)
	require.Equal(t, 3, merged[0].Quantity)
	require.Equal(t, int64(2), merged[1].LineItemID)
	require.Equal(t, 4, merged[1].Quantity)

	// inputs are untouched
	require.Equal(t, 1, items[0].Quantity)
}

func TestMergeEqualItemsTreatsEmptyAndNilSlicesAlike(t *testing.T) {
	a := discount.BagItem{LineItemID: 1, ItemDetails: discount.ItemDetails{ProductID: "fries", Quantity: 1, CategoryValidity: []string{}}}
	b := discount.BagItem{LineItemID: 2, ItemDetails: discount.ItemDetails{ProductID: "fries", Quantity: 1}}
	c := discount.BagItem{LineItemID: 3, ItemDetails: discount.ItemDetails{ProductID: "fries", PriceType: "promo", Quantity: 1}}

	merged := MergeEqualItems([]discount.BagItem{a, b, c})
	require.Len(t, merged, 2)
	require.Equal(t, 2, merged[0].Quantity)
	require.Equal(t, int64(3), merged[1].LineItemID)
}

func TestMergeEqualItemsEmpty(t *testing.T) {
	require.Empty(t, MergeEqualItems(nil))
}
