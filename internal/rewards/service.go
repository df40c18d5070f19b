package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-rewards/internal/audit"
	"github.com/noah-isme/backend-rewards/internal/bag"
	"github.com/noah-isme/backend-rewards/internal/discount"
	"github.com/noah-isme/backend-rewards/internal/obs"
)

// Outcome describes what discount pricing did to the bag.
type Outcome string

const (
	// OutcomeUntouched means no line was targeted and no check-level offer applies.
	OutcomeUntouched Outcome = "untouched"
	// OutcomeCheckLevel means the bag was rewritten to its quantity-merged form.
	OutcomeCheckLevel Outcome = "check_level"
	// OutcomeSplit means one unit of the target line was split off to carry the promo.
	OutcomeSplit Outcome = "split"
	// OutcomeNoSplit means a line was targeted but needed no split.
	OutcomeNoSplit Outcome = "no_split"
)

// Bags is the bag state the rewards flow reads and rewrites.
type Bags interface {
	GetForCustomer(ctx context.Context, bagID, customerID string) (bag.State, error)
	Update(ctx context.Context, bagID string, fn func(*bag.State) error) (bag.State, error)
}

// AuditPublisher hands discount applications to the background ledger.
type AuditPublisher interface {
	Publish(ctx context.Context, entry audit.Entry) error
}

// Service coordinates promo codes and discount pricing with the bag.
type Service struct {
	Upstream  Upstream
	Bags      Bags
	Publisher AuditPublisher
	Alloc     discount.LineIDAllocator
	Logger    zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

// ApplyInput is a promo code redemption request.
type ApplyInput struct {
	PromoCode            string
	DisablePromoUiBrands bool
}

// ApplyResult is returned by ApplyPromoCode.
type ApplyResult struct {
	Offers []UpstreamOffer
	Bag    bag.State
}

// DiscountResult is returned by GetRewardsDiscount.
type DiscountResult struct {
	Order           DiscountedOrder
	Outcome         Outcome
	Target          discount.Target
	SplitLineItemID int64
	Bag             bag.State
}

// EligibilityResult previews which lines a promo would land on.
type EligibilityResult struct {
	Order  DiscountedOrder
	Target discount.Target
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

func (s *Service) ready() error {
	if s == nil || s.Upstream == nil || s.Bags == nil {
		return errors.New("rewards service not configured")
	}
	return nil
}

// ApplyPromoCode redeems a promo code and records the first returned offer on the bag.
func (s *Service) ApplyPromoCode(ctx context.Context, customerID, bagID string, in ApplyInput) (ApplyResult, error) {
	if err := s.ready(); err != nil {
		return ApplyResult{}, err
	}
	requested := strings.TrimSpace(in.PromoCode)
	if requested == "" {
		return ApplyResult{}, ErrPromoCodeRequired
	}
	st, err := s.Bags.GetForCustomer(ctx, bagID, customerID)
	if err != nil {
		return ApplyResult{}, err
	}
	resp, err := s.Upstream.Apply(ctx, ApplyRequest{Promocode: requested, Location: Location{ID: st.LocationID}})
	if err != nil {
		perr := NewPromoError(requested, err)
		s.log(ctx).Info().Err(err).Str("bag_id", bagID).Str("error_code", perr.ErrorCode).Msg("promo code rejected")
		return ApplyResult{}, perr
	}
	updated, err := s.Bags.Update(ctx, bagID, func(st *bag.State) error {
		if !in.DisablePromoUiBrands && len(resp.Offers) > 0 {
			st.AttachOffer(toBagOffer(resp.Offers[0]))
		}
		return st.SetPromoCode(requested)
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Offers: resp.Offers, Bag: updated}, nil
}

// RemovePromoCode withdraws the promo code. The bag promotion is cleared on
// success and also when the rewards API answers 400, since the code is no
// longer usable either way.
func (s *Service) RemovePromoCode(ctx context.Context, customerID, bagID, promoCode string) (bag.State, error) {
	if err := s.ready(); err != nil {
		return bag.State{}, err
	}
	st, err := s.Bags.GetForCustomer(ctx, bagID, customerID)
	if err != nil {
		return bag.State{}, err
	}
	code := strings.TrimSpace(promoCode)
	if code == "" {
		code = st.AppliedPromoCode
	}
	if code == "" {
		return bag.State{}, ErrPromoCodeRequired
	}

	var perr *PromoError
	if err := s.Upstream.Remove(ctx, RemoveRequest{Promocode: code}); err != nil {
		perr = NewPromoError(code, err)
		if perr.Status != 400 {
			return st, perr
		}
	}
	updated, err := s.Bags.Update(ctx, bagID, func(st *bag.State) error {
		st.ClearPromotion()
		return nil
	})
	if err != nil {
		return bag.State{}, err
	}
	if perr != nil {
		return updated, perr
	}
	return updated, nil
}

// GetRewardsDiscount prices the bag with the rewards API and rewrites the bag
// so a single-use promo lands on exactly one unit.
func (s *Service) GetRewardsDiscount(ctx context.Context, customerID, bagID string) (DiscountResult, error) {
	if err := s.ready(); err != nil {
		return DiscountResult{}, err
	}
	st, err := s.Bags.GetForCustomer(ctx, bagID, customerID)
	if err != nil {
		return DiscountResult{}, err
	}
	order, err := s.Upstream.Discount(ctx, discountRequest(st))
	if err != nil {
		s.log(ctx).Warn().Err(err).Str("bag_id", bagID).Msg("rewards discount pricing failed")
		return DiscountResult{}, fmt.Errorf("%w: %w", ErrDiscountFailed, err)
	}

	var decision Decision
	updated, err := s.Bags.Update(ctx, bagID, func(st *bag.State) (err error) {
		decision, err = RewriteBag(st, order, s.Alloc)
		return err
	})
	if err != nil {
		return DiscountResult{}, err
	}

	obs.IncPromoResolution(decision.Target.Kind.String())
	if decision.Outcome == OutcomeCheckLevel || decision.Outcome == OutcomeSplit {
		obs.IncBagRewrite(string(decision.Outcome))
	}
	s.publish(ctx, updated, decision)

	return DiscountResult{
		Order:           order,
		Outcome:         decision.Outcome,
		Target:          decision.Target,
		SplitLineItemID: decision.SplitLineItemID,
		Bag:             updated,
	}, nil
}

// Eligibility prices the bag and reports which lines the promo would apply to,
// without changing the bag.
func (s *Service) Eligibility(ctx context.Context, customerID, bagID string, recurring bool) (EligibilityResult, error) {
	if err := s.ready(); err != nil {
		return EligibilityResult{}, err
	}
	st, err := s.Bags.GetForCustomer(ctx, bagID, customerID)
	if err != nil {
		return EligibilityResult{}, err
	}
	order, err := s.Upstream.Discount(ctx, discountRequest(st))
	if err != nil {
		return EligibilityResult{}, fmt.Errorf("%w: %w", ErrDiscountFailed, err)
	}
	return EligibilityResult{
		Order:  order,
		Target: discount.Resolve(order.Items, st.DealLocationApplicable, recurring),
	}, nil
}

func (s *Service) publish(ctx context.Context, st bag.State, d Decision) {
	if s.Publisher == nil {
		return
	}
	total := st.DiscountTotal
	if total < 0 {
		total = 0
	}
	entry := audit.Entry{
		ID:                s.newID(),
		BagID:             st.BagID,
		CustomerID:        st.CustomerID,
		PromoCode:         st.AppliedPromoCode,
		Outcome:           string(d.Outcome),
		TargetKind:        d.Target.Kind.String(),
		TargetLineItemIDs: d.Target.LineItemIDs,
		SplitLineItemID:   d.SplitLineItemID,
		DiscountTotal:     total,
		OccurredAt:        s.now(),
	}
	if err := s.Publisher.Publish(ctx, entry); err != nil {
		s.log(ctx).Warn().Err(err).Str("bag_id", st.BagID).Msg("publish discount audit task")
	}
}

// Decision is the bag rewrite chosen for a priced order.
type Decision struct {
	Outcome         Outcome
	Target          discount.Target
	SplitLineItemID int64
}

// RewriteBag applies the priced order to the bag, committing rewritten lines
// with a forced replacement. Recurring promos are not handled here: resolution
// always runs in single-use mode.
func RewriteBag(st *bag.State, order DiscountedOrder, alloc discount.LineIDAllocator) (Decision, error) {
	st.DiscountTotal = order.Discount

	itemsToRemove := st.ItemsToRemove()
	merged := bag.MergeEqualItems(st.AvailableItems())
	target := discount.Resolve(order.Items, st.DealLocationApplicable, false)
	d := Decision{Outcome: OutcomeUntouched, Target: target}

	promoID, single := target.Single()
	checkLevel := st.IsCheckLevel()
	if !single && !checkLevel {
		return d, nil
	}
	if checkLevel && order.Items != nil {
		if err := st.SetItems(append(merged, itemsToRemove...), bag.SetOptions{ForceSet: true}); err != nil {
			return Decision{}, err
		}
		d.Outcome = OutcomeCheckLevel
		return d, nil
	}
	if !single {
		return d, nil
	}

	d.Outcome = OutcomeNoSplit
	for _, it := range merged {
		if it.LineItemID != promoID {
			continue
		}
		if it.Quantity > 1 {
			split := discount.Split(st.AllItems(), merged, it, alloc)
			if err := st.SetItems(append(split, itemsToRemove...), bag.SetOptions{ForceSet: true}); err != nil {
				return Decision{}, err
			}
			d.Outcome = OutcomeSplit
			d.SplitLineItemID = split[1].LineItemID
		}
		break
	}
	return d, nil
}

func discountRequest(st bag.State) DiscountRequest {
	offerIDs := make([]string, 0, len(st.AppliedOffers))
	for _, o := range st.AppliedOffers {
		offerIDs = append(offerIDs, o.ID)
	}
	return DiscountRequest{
		Location:  Location{ID: st.LocationID},
		Items:     bag.MergeEqualItems(st.AvailableItems()),
		OfferIDs:  offerIDs,
		PromoCode: st.AppliedPromoCode,
	}
}

func toBagOffer(o UpstreamOffer) bag.Offer {
	locations := make([]string, 0, len(o.LocationRestrictions.Locations))
	for _, l := range o.LocationRestrictions.Locations {
		locations = append(locations, l.ID)
	}
	return bag.Offer{
		ID:          o.ID,
		UserOfferID: o.UserOfferID,
		Name:        o.Name,
		EndDate:     o.EndDateTime,
		Type:        o.Type,
		Image:       o.ImageURL,
		Applicability: bag.OfferApplicability{
			BuyCount:      o.Applicability.BuyCount,
			GetCount:      o.Applicability.GetCount,
			IsIncludesAll: o.Applicability.IsIncludesAll,
			MaxRecurrence: o.Applicability.MaxRecurrence,
			Price:         o.Applicability.Price,
			Percent:       o.Applicability.Percent,
		},
		LocationRestrictions: bag.LocationRestrictions{
			IsAllLocations: o.LocationRestrictions.IsAllLocations,
			Exclusion:      o.LocationRestrictions.Exclusion,
			Locations:      locations,
		},
		PosDiscountID: o.PosDiscountID,
		IsCheckLevel:  o.IsCheckLevel,
	}
}
