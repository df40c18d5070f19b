package audit

import "time"

// Entry records a single discount application against a bag.
type Entry struct {
	ID                string    `json:"id" validate:"required,uuid"`
	BagID             string    `json:"bagId" validate:"required"`
	CustomerID        string    `json:"customerId" validate:"required"`
	PromoCode         string    `json:"promoCode,omitempty"`
	Outcome           string    `json:"outcome" validate:"required,oneof=untouched check_level split no_split"`
	TargetKind        string    `json:"targetKind" validate:"required,oneof=none single many"`
	TargetLineItemIDs []int64   `json:"targetLineItemIds"`
	SplitLineItemID   int64     `json:"splitLineItemId,omitempty"`
	DiscountTotal     int64     `json:"discountTotal" validate:"gte=0"`
	OccurredAt        time.Time `json:"occurredAt" validate:"required"`
}
