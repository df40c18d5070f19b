package discount_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-rewards/internal/discount"
)

func orderItemsFixture() []discount.OrderLineItem {
	return []discount.OrderLineItem{
		{LineItemID: 1, Offers: true, DiscountableQuantity: 2},
		{LineItemID: 2, Offers: true, DiscountableQuantity: 0, ChildItems: []discount.ChildItem{{Offers: true, DiscountableQuantity: 1}}},
		{LineItemID: 3, Offers: false, DiscountableQuantity: 2},
	}
}

func TestResolveLocationNotApplicable(t *testing.T) {
	for _, recurring := range []bool{true, false} {
		target := discount.Resolve(orderItemsFixture(), false, recurring)
		require.Equal(t, discount.TargetNone, target.Kind)
		require.Nil(t, target.LineItemIDs)
	}
}

func TestResolveRecurringReturnsAllDiscountable(t *testing.T) {
	target := discount.Resolve(orderItemsFixture(), true, true)
	require.Equal(t, discount.TargetMany, target.Kind)
	require.Equal(t, []int64{1, 2}, target.LineItemIDs)
}

func TestResolveSingleUseAmbiguous(t *testing.T) {
	// 2 from line 1 plus 1 from line 2's child
	target := discount.Resolve(orderItemsFixture(), true, false)
	require.Equal(t, discount.TargetNone, target.Kind)
	_, ok := target.Single()
	require.False(t, ok)
}

func TestResolveSingleUseTwoSingleUnits(t *testing.T) {
	items := []discount.OrderLineItem{
		{LineItemID: 7, Offers: true, DiscountableQuantity: 1},
		{LineItemID: 8, Offers: true, DiscountableQuantity: 1},
	}
	require.Equal(t, discount.TargetNone, discount.Resolve(items, true, false).Kind)
}

func TestResolveSingleUseOneUnit(t *testing.T) {
	items := []discount.OrderLineItem{
		{LineItemID: 4, Offers: false, DiscountableQuantity: 3},
		{LineItemID: 5, Offers: true, DiscountableQuantity: 1},
	}
	target := discount.Resolve(items, true, false)
	id, ok := target.Single()
	require.True(t, ok)
	require.Equal(t, int64(5), id)
}

func TestResolveChildMakesParentTarget(t *testing.T) {
	items := []discount.OrderLineItem{
		{LineItemID: 9, ChildItems: []discount.ChildItem{
			{Offers: true, DiscountableQuantity: 0},
			{Offers: false, DiscountableQuantity: 4},
			{Offers: true, DiscountableQuantity: 1},
		}},
	}
	target := discount.Resolve(items, true, false)
	id, ok := target.Single()
	require.True(t, ok)
	require.Equal(t, int64(9), id)
}

func TestResolveNoDiscountableItems(t *testing.T) {
	items := []discount.OrderLineItem{{LineItemID: 4, Offers: false, DiscountableQuantity: 0}}
	require.Equal(t, discount.TargetNone, discount.Resolve(items, true, false).Kind)

	target := discount.Resolve(items, true, true)
	require.Equal(t, discount.TargetMany, target.Kind)
	require.NotNil(t, target.LineItemIDs)
	require.Empty(t, target.LineItemIDs)
}

func TestResolveEmptyInput(t *testing.T) {
	require.Equal(t, discount.TargetNone, discount.Resolve(nil, true, false).Kind)

	target := discount.Resolve([]discount.OrderLineItem{}, true, true)
	require.Equal(t, discount.TargetMany, target.Kind)
	require.Equal(t, []int64{}, target.LineItemIDs)
}

func TestResolveZeroQuantityWithOffersIsNotEligible(t *testing.T) {
	items := []discount.OrderLineItem{{LineItemID: 1, Offers: true, DiscountableQuantity: 0}}
	target := discount.Resolve(items, true, true)
	require.Empty(t, target.LineItemIDs)
}

func TestResolveKeepsInputOrderWithoutDedup(t *testing.T) {
	items := []discount.OrderLineItem{
		{LineItemID: 30, Offers: true, DiscountableQuantity: 1},
		{LineItemID: 10, Offers: true, DiscountableQuantity: 1},
		{LineItemID: 30, Offers: true, DiscountableQuantity: 1},
	}
	target := discount.Resolve(items, true, true)
	require.Equal(t, []int64{30, 10, 30}, target.LineItemIDs)
}

func TestTargetKindString(t *testing.T) {
	require.Equal(t, "none", discount.TargetNone.String())
	require.Equal(t, "single", discount.TargetSingle.String())
	require.Equal(t, "many", discount.TargetMany.String())
}
