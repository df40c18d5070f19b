package bag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-rewards/internal/discount"
)

var (
	// ErrNotFound indicates the requested bag or line item does not exist.
	ErrNotFound = errors.New("bag not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrItemNotFound indicates the line item is not part of the bag.
	ErrItemNotFound = errors.New("bag item not found")
)

// Locker serialises updates to a single bag.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// SetOptions controls how SetItems applies the new item list.
type SetOptions struct {
	// ForceSet replaces the visible items wholesale instead of merging by line id.
	ForceSet bool
}

// Service encapsulates bag operations. Every mutation runs under the bag lock.
type Service struct {
	Store   *Store
	Locker  Locker
	LockTTL time.Duration
	Now     func() time.Time
	NewID   func() string
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s != nil && s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) lockTTL() time.Duration {
	if s == nil || s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

// Get returns the bag state.
func (s *Service) Get(ctx context.Context, bagID string) (State, error) {
	if s == nil || s.Store == nil {
		return State{}, errors.New("bag service not configured")
	}
	return s.Store.Load(ctx, bagID)
}

// GetForCustomer returns the bag only when it belongs to customerID.
func (s *Service) GetForCustomer(ctx context.Context, bagID, customerID string) (State, error) {
	st, err := s.Get(ctx, bagID)
	if err != nil {
		return State{}, err
	}
	if st.CustomerID != customerID {
		return State{}, ErrNotFound
	}
	return st, nil
}

// Create starts an empty bag for the customer.
func (s *Service) Create(ctx context.Context, customerID, locationID string) (State, error) {
	if s == nil || s.Store == nil {
		return State{}, errors.New("bag service not configured")
	}
	if strings.TrimSpace(customerID) == "" {
		return State{}, fmt.Errorf("customer id required: %w", ErrInvalidInput)
	}
	now := s.now()
	st := State{
		BagID:                  s.newID(),
		CustomerID:             customerID,
		LocationID:             strings.TrimSpace(locationID),
		Items:                  []discount.BagItem{},
		UnavailableItems:       []discount.BagItem{},
		ItemIDsToRemove:        []int64{},
		AppliedOffers:          []Offer{},
		DealLocationApplicable: true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.Store.Save(ctx, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Update loads the bag, applies fn and persists the result while holding the bag lock.
func (s *Service) Update(ctx context.Context, bagID string, fn func(*State) error) (State, error) {
	if s == nil || s.Store == nil || s.Locker == nil {
		return State{}, errors.New("bag service not configured")
	}
	var out State
	err := s.Locker.WithLock(ctx, lockKey(bagID), s.lockTTL(), func(ctx context.Context) error {
		st, err := s.Store.Load(ctx, bagID)
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		st.UpdatedAt = s.now()
		if err := s.Store.Save(ctx, st); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err != nil {
		return State{}, err
	}
	return out, nil
}

// AddItem appends a new line to the bag and returns it with its allocated line id.
func (s *Service) AddItem(ctx context.Context, bagID string, details discount.ItemDetails) (State, discount.BagItem, error) {
	if err := validateDetails(details); err != nil {
		return State{}, discount.BagItem{}, err
	}
	var added discount.BagItem
	st, err := s.Update(ctx, bagID, func(st *State) error {
		added = details.WithLineID(discount.NextLineID(st.AllItems()))
		st.Items = append(st.Items, added)
		return nil
	})
	if err != nil {
		return State{}, discount.BagItem{}, err
	}
	return st, added, nil
}

// UpdateQuantity changes the quantity of a visible line.
func (s *Service) UpdateQuantity(ctx context.Context, bagID string, lineItemID int64, qty int) (State, error) {
	if qty < 1 {
		return State{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	return s.Update(ctx, bagID, func(st *State) error {
		idx := st.indexOf(lineItemID)
		if idx < 0 {
			return ErrItemNotFound
		}
		st.Items[idx].Quantity = qty
		return nil
	})
}

// RemoveItem deletes a line from the bag, including any unavailable copy and removal flag.
func (s *Service) RemoveItem(ctx context.Context, bagID string, lineItemID int64) (State, error) {
	return s.Update(ctx, bagID, func(st *State) error {
		idx := st.indexOf(lineItemID)
		if idx < 0 {
			return ErrItemNotFound
		}
		st.Items = append(st.Items[:idx], st.Items[idx+1:]...)
		st.UnavailableItems = withoutLine(st.UnavailableItems, lineItemID)
		st.ItemIDsToRemove = withoutID(st.ItemIDsToRemove, lineItemID)
		return nil
	})
}

// SetItems replaces the visible items of the bag under its lock.
func (s *Service) SetItems(ctx context.Context, bagID string, items []discount.BagItem, opts SetOptions) (State, error) {
	return s.Update(ctx, bagID, func(st *State) error {
		return st.SetItems(items, opts)
	})
}

func applyItems(current, incoming []discount.BagItem, opts SetOptions) []discount.BagItem {
	if opts.ForceSet {
		out := make([]discount.BagItem, 0, len(incoming))
		for _, it := range incoming {
			out = append(out, it.Clone())
		}
		return out
	}
	out := make([]discount.BagItem, 0, len(current)+len(incoming))
	for _, it := range current {
		out = append(out, it.Clone())
	}
	for _, it := range incoming {
		replaced := false
		for i := range out {
			if out[i].LineItemID == it.LineItemID {
				out[i] = it.Clone()
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, it.Clone())
		}
	}
	return out
}

// MarkUnavailable records lines that can no longer be ordered at the bag location.
// They stay in the bag and are flagged for removal.
func (s *Service) MarkUnavailable(ctx context.Context, bagID string, lineItemIDs []int64) (State, error) {
	if len(lineItemIDs) == 0 {
		return State{}, fmt.Errorf("line item ids required: %w", ErrInvalidInput)
	}
	return s.Update(ctx, bagID, func(st *State) error {
		for _, id := range lineItemIDs {
			idx := st.indexOf(id)
			if idx < 0 {
				return fmt.Errorf("line item %d: %w", id, ErrItemNotFound)
			}
			if !containsID(st.ItemIDsToRemove, id) {
				st.ItemIDsToRemove = append(st.ItemIDsToRemove, id)
			}
			st.UnavailableItems = withoutLine(st.UnavailableItems, id)
			st.UnavailableItems = append(st.UnavailableItems, st.Items[idx].Clone())
		}
		return nil
	})
}

// SetDealLocationApplicable records whether the applied deal is redeemable at the bag location.
func (s *Service) SetDealLocationApplicable(ctx context.Context, bagID string, applicable bool) (State, error) {
	return s.Update(ctx, bagID, func(st *State) error {
		st.DealLocationApplicable = applicable
		return nil
	})
}

func validateDetails(d discount.ItemDetails) error {
	if strings.TrimSpace(d.ProductID) == "" {
		return fmt.Errorf("product id required: %w", ErrInvalidInput)
	}
	if d.Quantity < 1 {
		return fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if d.Price < 0 {
		return fmt.Errorf("price must not be negative: %w", ErrInvalidInput)
	}
	return nil
}

func upsertOffer(offers []Offer, offer Offer) []Offer {
	out := make([]Offer, 0, len(offers)+1)
	replaced := false
	for _, o := range offers {
		if o.ID == offer.ID {
			out = append(out, offer)
			replaced = true
			continue
		}
		out = append(out, o)
	}
	if !replaced {
		out = append(out, offer)
	}
	return out
}

func withoutLine(items []discount.BagItem, lineItemID int64) []discount.BagItem {
	out := items[:0:0]
	for _, it := range items {
		if it.LineItemID != lineItemID {
			out = append(out, it)
		}
	}
	return out
}

func withoutID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
