package bag

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-rewards/internal/discount"
)

// OfferApplicability mirrors the rewards offer applicability rules shown to the customer.
type OfferApplicability struct {
	BuyCount      int    `json:"buyCount,omitempty"`
	GetCount      int    `json:"getCount,omitempty"`
	IsIncludesAll bool   `json:"isIncludesAll"`
	MaxRecurrence int    `json:"maxRecurrence"`
	Price         string `json:"price,omitempty"`
	Percent       string `json:"percent,omitempty"`
}

// LocationRestrictions limits where an offer can be redeemed.
type LocationRestrictions struct {
	IsAllLocations bool     `json:"isAllLocations"`
	Exclusion      bool     `json:"exclusion,omitempty"`
	Locations      []string `json:"locations,omitempty"`
}

// Offer is a rewards offer attached to the bag after a promo code was applied.
type Offer struct {
	ID                   string               `json:"id"`
	UserOfferID          string               `json:"userOfferId,omitempty"`
	Name                 string               `json:"name"`
	EndDate              string               `json:"endDate,omitempty"`
	Type                 string               `json:"type"`
	Image                string               `json:"image,omitempty"`
	Applicability        OfferApplicability   `json:"applicability"`
	LocationRestrictions LocationRestrictions `json:"locationRestrictions"`
	PosDiscountID        string               `json:"posDiscountId,omitempty"`
	IsCheckLevel         bool                 `json:"isCheckLevel"`
}

// State is the persisted bag of a customer.
type State struct {
	BagID                  string             `json:"bagId"`
	CustomerID             string             `json:"customerId"`
	LocationID             string             `json:"locationId,omitempty"`
	Items                  []discount.BagItem `json:"items"`
	UnavailableItems       []discount.BagItem `json:"unavailableItems"`
	ItemIDsToRemove        []int64            `json:"itemIdsToRemove"`
	AppliedOffers          []Offer            `json:"appliedOffers"`
	AppliedPromoCode       string             `json:"appliedPromoCode,omitempty"`
	DiscountTotal          int64              `json:"discountTotal"`
	DealLocationApplicable bool               `json:"dealLocationApplicable"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// IsCheckLevel reports whether the first applied offer discounts the whole check.
func (s State) IsCheckLevel() bool {
	return len(s.AppliedOffers) > 0 && s.AppliedOffers[0].IsCheckLevel
}

// AllItems returns visible and unavailable items, in that order.
func (s State) AllItems() []discount.BagItem {
	out := make([]discount.BagItem, 0, len(s.Items)+len(s.UnavailableItems))
	out = append(out, s.Items...)
	out = append(out, s.UnavailableItems...)
	return out
}

// ItemsToRemove returns the visible items flagged for removal.
func (s State) ItemsToRemove() []discount.BagItem {
	if len(s.ItemIDsToRemove) == 0 {
		return nil
	}
	flagged := make(map[int64]struct{}, len(s.ItemIDsToRemove))
	for _, id := range s.ItemIDsToRemove {
		flagged[id] = struct{}{}
	}
	var out []discount.BagItem
	for _, it := range s.Items {
		if _, ok := flagged[it.LineItemID]; ok {
			out = append(out, it.Clone())
		}
	}
	return out
}

// AttachOffer records offer on the bag, replacing an offer with the same id.
func (s *State) AttachOffer(offer Offer) {
	s.AppliedOffers = upsertOffer(s.AppliedOffers, offer)
}

// ClearPromotion drops applied offers, the promo code and the last known discount.
func (s *State) ClearPromotion() {
	s.AppliedOffers = []Offer{}
	s.AppliedPromoCode = ""
	s.DiscountTotal = 0
}

// SetItems replaces the visible items. Without ForceSet, items are merged by line id:
// existing lines are replaced in place and unknown lines are appended. Removal
// flags for lines that no longer exist are dropped.
func (s *State) SetItems(items []discount.BagItem, opts SetOptions) error {
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.LineItemID]; dup {
			return fmt.Errorf("duplicate line item %d: %w", it.LineItemID, ErrInvalidInput)
		}
		seen[it.LineItemID] = struct{}{}
	}
	s.Items = applyItems(s.Items, items, opts)
	kept := make([]int64, 0, len(s.ItemIDsToRemove))
	for _, id := range s.ItemIDsToRemove {
		if s.indexOf(id) >= 0 {
			kept = append(kept, id)
		}
	}
	s.ItemIDsToRemove = kept
	return nil
}

// SetPromoCode records the applied promo code, upper-cased.
func (s *State) SetPromoCode(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return fmt.Errorf("promo code required: %w", ErrInvalidInput)
	}
	s.AppliedPromoCode = code
	return nil
}

// AvailableItems returns the visible items that are not flagged for removal.
func (s State) AvailableItems() []discount.BagItem {
	out := make([]discount.BagItem, 0, len(s.Items))
	for _, it := range s.Items {
		if !containsID(s.ItemIDsToRemove, it.LineItemID) {
			out = append(out, it.Clone())
		}
	}
	return out
}

func (s State) indexOf(lineItemID int64) int {
	for i, it := range s.Items {
		if it.LineItemID == lineItemID {
			return i
		}
	}
	return -1
}
