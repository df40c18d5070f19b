package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-rewards/internal/discount"
	"github.com/noah-isme/backend-rewards/internal/obs"
	"github.com/noah-isme/backend-rewards/internal/resilience"
)

const (
	opDiscount = "discount"
	opApply    = "apply"
	opRemove   = "remove"
)

// Upstream is the subset of the rewards API used by the service.
type Upstream interface {
	Discount(ctx context.Context, req DiscountRequest) (DiscountedOrder, error)
	Apply(ctx context.Context, req ApplyRequest) (ApplyResponse, error)
	Remove(ctx context.Context, req RemoveRequest) error
}

// ClientConfig describes how to reach the rewards API.
type ClientConfig struct {
	BaseURL        string
	BrandID        string
	AppendLocation bool
	UseV3          bool
}

// Client talks to the rewards API over HTTP.
type Client struct {
	cfg    ClientConfig
	http   resilience.HTTPClient
	single resilience.HTTPClient
}

// NewClient constructs a rewards API client. Discount pricing uses the
// configured retries; promo apply and remove are attempted exactly once.
func NewClient(cfg ClientConfig, httpClient resilience.HTTPClient) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	single := httpClient
	single.MaxAttempts = 1
	return &Client{cfg: cfg, http: httpClient, single: single}
}

// Location identifies the store the customer is ordering from.
type Location struct {
	ID string `json:"id"`
}

// DiscountRequest is the body of the discount pricing call. Item prices are
// held in minor units and sent in major units, the unit the rewards API prices in.
type DiscountRequest struct {
	Location  Location           `json:"location"`
	Items     []discount.BagItem `json:"items"`
	OfferIDs  []string           `json:"offerIds,omitempty"`
	PromoCode string             `json:"promocode,omitempty"`
}

// DiscountedOrder is the priced order returned by the rewards API. Amounts are in minor units.
type DiscountedOrder struct {
	Items    []discount.OrderLineItem `json:"items"`
	Subtotal int64                    `json:"subtotal"`
	Discount int64                    `json:"discount"`
	Tax      int64                    `json:"tax"`
	Total    int64                    `json:"total"`
}

type wireOrder struct {
	Items    []discount.OrderLineItem `json:"items"`
	Subtotal decimal.Decimal          `json:"subtotal"`
	Discount decimal.Decimal          `json:"discount"`
	Tax      decimal.Decimal          `json:"tax"`
	Total    decimal.Decimal          `json:"total"`
}

func minorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func majorUnits(minor int64) json.Number {
	return json.Number(decimal.New(minor, -2).StringFixed(2))
}

type wireModifier struct {
	discount.Modifier
	Price json.Number `json:"price"`
}

type wireModifierGroup struct {
	ProductID string         `json:"productId"`
	Modifiers []wireModifier `json:"modifiers,omitempty"`
}

type wireItem struct {
	discount.BagItem
	Price          json.Number         `json:"price"`
	ModifierGroups []wireModifierGroup `json:"modifierGroups,omitempty"`
}

type wireDiscountRequest struct {
	Location  Location   `json:"location"`
	Items     []wireItem `json:"items"`
	OfferIDs  []string   `json:"offerIds,omitempty"`
	PromoCode string     `json:"promocode,omitempty"`
}

func (r DiscountRequest) wire() wireDiscountRequest {
	items := make([]wireItem, 0, len(r.Items))
	for _, it := range r.Items {
		w := wireItem{BagItem: it, Price: majorUnits(it.Price)}
		for _, g := range it.ModifierGroups {
			group := wireModifierGroup{ProductID: g.ProductID}
			for _, m := range g.Modifiers {
				group.Modifiers = append(group.Modifiers, wireModifier{Modifier: m, Price: majorUnits(m.Price)})
			}
			w.ModifierGroups = append(w.ModifierGroups, group)
		}
		items = append(items, w)
	}
	return wireDiscountRequest{Location: r.Location, Items: items, OfferIDs: r.OfferIDs, PromoCode: r.PromoCode}
}

func (w wireOrder) order() DiscountedOrder {
	return DiscountedOrder{
		Items:    w.Items,
		Subtotal: minorUnits(w.Subtotal),
		Discount: minorUnits(w.Discount),
		Tax:      minorUnits(w.Tax),
		Total:    minorUnits(w.Total),
	}
}

// ApplyRequest is the body of the promo apply call.
type ApplyRequest struct {
	Promocode string   `json:"promocode"`
	Location  Location `json:"location"`
}

// UpstreamOffer is an offer as described by the rewards API.
type UpstreamOffer struct {
	ID            string `json:"id"`
	UserOfferID   string `json:"userOfferId"`
	Name          string `json:"name"`
	ImageURL      string `json:"imageUrl"`
	Code          string `json:"code"`
	EndDateTime   string `json:"endDateTime"`
	Type          string `json:"type"`
	PosDiscountID string `json:"posDiscountId"`
	IsCheckLevel  bool   `json:"isCheckLevel"`
	Applicability struct {
		BuyCount      int    `json:"buyCount"`
		GetCount      int    `json:"getCount"`
		IsIncludesAll bool   `json:"isIncludesAll"`
		MaxRecurrence int    `json:"maxRecurrence"`
		Price         string `json:"price"`
		Percent       string `json:"percent"`
	} `json:"applicability"`
	LocationRestrictions struct {
		IsAllLocations bool       `json:"isAllLocations"`
		Exclusion      bool       `json:"exclusion"`
		Locations      []Location `json:"locations"`
	} `json:"locationRestrictions"`
}

// ApplyResponse is returned by a successful promo apply call.
type ApplyResponse struct {
	Offers []UpstreamOffer `json:"offers"`
}

// RemoveRequest is the body of the promo remove call.
type RemoveRequest struct {
	Promocode string `json:"promocode"`
}

// Discount prices the order and reports which lines carry offers.
func (c *Client) Discount(ctx context.Context, req DiscountRequest) (DiscountedOrder, error) {
	endpoint := c.url(false, "/customer/account/discount", nil)
	var out wireOrder
	if err := c.post(ctx, c.http, opDiscount, endpoint, req.wire(), &out); err != nil {
		return DiscountedOrder{}, err
	}
	return out.order(), nil
}

// Apply redeems a promo code for the customer.
func (c *Client) Apply(ctx context.Context, req ApplyRequest) (ApplyResponse, error) {
	req.Promocode = strings.ToUpper(req.Promocode)
	extra := url.Values{}
	if c.cfg.AppendLocation && req.Location.ID != "" {
		extra.Set("location", req.Location.ID)
	}
	endpoint := c.url(c.cfg.UseV3, "/customer/rewards/apply", extra)
	var out ApplyResponse
	if err := c.post(ctx, c.single, opApply, endpoint, req, &out); err != nil {
		return ApplyResponse{}, err
	}
	return out, nil
}

// Remove withdraws a previously applied promo code.
func (c *Client) Remove(ctx context.Context, req RemoveRequest) error {
	req.Promocode = strings.ToUpper(req.Promocode)
	endpoint := c.url(c.cfg.UseV3, "/customer/rewards/remove", nil)
	return c.post(ctx, c.single, opRemove, endpoint, req, nil)
}

func (c *Client) url(v3 bool, path string, extra url.Values) string {
	base := c.cfg.BaseURL
	if v3 {
		base += "/v3"
	}
	query := url.Values{}
	query.Set("brandId", c.cfg.BrandID)
	for key, values := range extra {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	return base + path + "?" + query.Encode()
}

func (c *Client) post(ctx context.Context, hc resilience.HTTPClient, op, endpoint string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := AccessToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := hc.Do(ctx, req)
	if err != nil {
		obs.ObserveRewardsCall(op, "error", float64(time.Since(start).Milliseconds()))
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		obs.ObserveRewardsCall(op, "error", float64(time.Since(start).Milliseconds()))
		return fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		obs.ObserveRewardsCall(op, "rejected", float64(time.Since(start).Milliseconds()))
		return decodeUpstreamError(resp.StatusCode, data)
	}
	obs.ObserveRewardsCall(op, "ok", float64(time.Since(start).Milliseconds()))
	if dst == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func decodeUpstreamError(status int, data []byte) error {
	var body struct {
		Message string        `json:"message"`
		Data    []ErrorDetail `json:"data"`
	}
	_ = json.Unmarshal(data, &body)
	return &UpstreamError{Status: status, Message: body.Message, Details: body.Data}
}

type tokenKey struct{}

// WithAccessToken stores the customer's bearer token so upstream calls act on their behalf.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// AccessToken returns the bearer token stored by WithAccessToken.
func AccessToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
