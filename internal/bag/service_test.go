package bag_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-rewards/internal/bag"
	"github.com/noah-isme/backend-rewards/internal/discount"
	"github.com/noah-isme/backend-rewards/internal/lock"
)

func newService(t *testing.T) (*bag.Service, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &bag.Service{
		Store:   bag.NewStore(client, time.Hour),
		Locker:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL: time.Second,
		Now:     func() time.Time { return fixed },
		NewID:   func() string { return "bag-1" },
	}, mr
}

func burger(qty int) discount.ItemDetails {
	return discount.ItemDetails{ProductID: "burger", DisplayName: "Burger", Price: 899, Quantity: qty}
}

func TestCreateAndGet(t *testing.T) {
	svc, mr := newService(t)
	ctx := context.Background()

	st, err := svc.Create(ctx, "customer-1", "store-9")
	require.NoError(t, err)
	require.Equal(t, "bag-1", st.BagID)
	require.True(t, st.DealLocationApplicable)
	require.True(t, mr.Exists("bag:bag-1"))
	require.Equal(t, time.Hour, mr.TTL("bag:bag-1"))

	loaded, err := svc.GetForCustomer(ctx, "bag-1", "customer-1")
	require.NoError(t, err)
	require.Equal(t, "store-9", loaded.LocationID)

	_, err = svc.GetForCustomer(ctx, "bag-1", "customer-2")
	require.ErrorIs(t, err, bag.ErrNotFound)

	_, err = svc.Get(ctx, "missing")
	require.ErrorIs(t, err, bag.ErrNotFound)
}

func TestAddItemAllocatesNextLineID(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "customer-1", "")
	require.NoError(t, err)

	_, first, err := svc.AddItem(ctx, "bag-1", burger(1))
	require.NoError(t, err)
	require.Equal(t, int64(1), first.LineItemID)

	_, second, err := svc.AddItem(ctx, "bag-1", burger(2))
	require.NoError(t, err)
	require.Equal(t, int64(2), second.LineItemID)

	_, err = svc.MarkUnavailable(ctx, "bag-1", []int64{2})
	require.NoError(t, err)
	_, err = svc.RemoveItem(ctx, "bag-1", 1)
	require.NoError(t, err)

	st, third, err := svc.AddItem(ctx, "bag-1", burger(1))
	require.NoError(t, err)
	require.Equal(t, int64(3), third.LineItemID)
	require.Len(t, st.Items, 2)

	_, _, err = svc.AddItem(ctx, "bag-1", discount.ItemDetails{ProductID: "fries"})
	require.ErrorIs(t, err, bag.ErrInvalidInput)
}

func TestUpdateQuantityAndRemove(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "customer-1", "")
	require.NoError(t, err)
	_, item, err := svc.AddItem(ctx, "bag-1", burger(1))
	require.NoError(t, err)

	st, err := svc.UpdateQuantity(ctx, "bag-1", item.LineItemID, 4)
	require.NoError(t, err)
	require.Equal(t, 4, st.Items[0].Quantity)

	_, err = svc.UpdateQuantity(ctx, "bag-1", item.LineItemID, 0)
	require.ErrorIs(t, err, bag.ErrInvalidInput)
	_, err = svc.UpdateQuantity(ctx, "bag-1", 99, 2)
	require.ErrorIs(t, err, bag.ErrItemNotFound)

	st, err = svc.RemoveItem(ctx, "bag-1", item.LineItemID)
	require.NoError(t, err)
	require.Empty(t, st.Items)
}

func TestSetItemsMergeAndForce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "customer-1", "")
	require.NoError(t, err)
	_, _, err = svc.AddItem(ctx, "bag-1", burger(1))
	require.NoError(t, err)
	_, _, err = svc.AddItem(ctx, "bag-1", burger(2))
	require.NoError(t, err)

	st, err := svc.SetItems(ctx, "bag-1", []discount.BagItem{burger(5).WithLineID(2), burger(1).WithLineID(7)}, bag.SetOptions{})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 7}, lineIDs(st.Items))
	require.Equal(t, 5, st.Items[1].Quantity)

	_, err = svc.MarkUnavailable(ctx, "bag-1", []int64{1})
	require.NoError(t, err)

	st, err = svc.SetItems(ctx, "bag-1", []discount.BagItem{burger(3).WithLineID(9)}, bag.SetOptions{ForceSet: true})
	require.NoError(t, err)
	require.Equal(t, []int64{9}, lineIDs(st.Items))
	require.Empty(t, st.ItemIDsToRemove)

	_, err = svc.SetItems(ctx, "bag-1", []discount.BagItem{burger(1).WithLineID(3), burger(1).WithLineID(3)}, bag.SetOptions{ForceSet: true})
	require.ErrorIs(t, err, bag.ErrInvalidInput)
}

func TestMarkUnavailableKeepsItemsFlagged(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "customer-1", "")
	require.NoError(t, err)
	_, _, err = svc.AddItem(ctx, "bag-1", burger(1))
	require.NoError(t, err)
	_, _, err = svc.AddItem(ctx, "bag-1", discount.ItemDetails{ProductID: "fries", Price: 299, Quantity: 1})
	require.NoError(t, err)

	st, err := svc.MarkUnavailable(ctx, "bag-1", []int64{2, 2})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, st.ItemIDsToRemove)
	require.Len(t, st.UnavailableItems, 1)
	require.Len(t, st.Items, 2)
	require.Equal(t, []int64{2}, lineIDs(st.ItemsToRemove()))
	require.Equal(t, []int64{1}, lineIDs(st.AvailableItems()))

	_, err = svc.MarkUnavailable(ctx, "bag-1", []int64{42})
	require.ErrorIs(t, err, bag.ErrItemNotFound)
}

func TestOffersAndPromoCode(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "customer-1", "")
	require.NoError(t, err)

	st, err := svc.Update(ctx, "bag-1", func(st *bag.State) error {
		st.AttachOffer(bag.Offer{ID: "o-1", Name: "Free fries"})
		st.AttachOffer(bag.Offer{ID: "o-1", Name: "Free fries", IsCheckLevel: true})
		return st.SetPromoCode(" fries10 ")
	})
	require.NoError(t, err)
	require.Len(t, st.AppliedOffers, 1)
	require.True(t, st.IsCheckLevel())
	require.Equal(t, "FRIES10", st.AppliedPromoCode)

	_, err = svc.Update(ctx, "bag-1", func(st *bag.State) error { return st.SetPromoCode("  ") })
	require.ErrorIs(t, err, bag.ErrInvalidInput)

	st, err = svc.SetDealLocationApplicable(ctx, "bag-1", false)
	require.NoError(t, err)
	require.False(t, st.DealLocationApplicable)

	st, err = svc.Update(ctx, "bag-1", func(st *bag.State) error {
		st.ClearPromotion()
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, st.AppliedOffers)
	require.Empty(t, st.AppliedPromoCode)
	require.False(t, st.IsCheckLevel())
}

func TestStateSetItemsKeepsFlagsForSurvivingLines(t *testing.T) {
	st := bag.State{
		Items:           []discount.BagItem{burger(1).WithLineID(1), burger(2).WithLineID(2)},
		ItemIDsToRemove: []int64{1, 2},
	}
	require.NoError(t, st.SetItems([]discount.BagItem{burger(2).WithLineID(2), burger(1).WithLineID(3)}, bag.SetOptions{ForceSet: true}))
	require.Equal(t, []int64{2, 3}, lineIDs(st.Items))
	require.Equal(t, []int64{2}, st.ItemIDsToRemove)

	err := st.SetItems([]discount.BagItem{burger(1).WithLineID(4), burger(1).WithLineID(4)}, bag.SetOptions{ForceSet: true})
	require.ErrorIs(t, err, bag.ErrInvalidInput)
	require.Equal(t, []int64{2, 3}, lineIDs(st.Items))
}

func TestUpdateWaitsForLock(t *testing.T) {
	svc, mr := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "customer-1", "")
	require.NoError(t, err)

	require.NoError(t, mr.Set("lock:bag:bag-1", "someone-else"))
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = svc.SetDealLocationApplicable(short, "bag-1", false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func lineIDs(items []discount.BagItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.LineItemID)
	}
	return ids
}
