package bag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-rewards/internal/common"
	"github.com/noah-isme/backend-rewards/internal/discount"
	"github.com/noah-isme/backend-rewards/internal/pricing"
)

// Handler wires bag services to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	TaxBps   int
	Currency string
}

// Routes mounts the bag endpoints on r. Callers are expected to enforce authentication.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/items", h.AddItem)
	r.Put("/{id}/items", h.SetItems)
	r.Patch("/{id}/items/{lineItemId}", h.UpdateItem)
	r.Delete("/{id}/items/{lineItemId}", h.RemoveItem)
	r.Post("/{id}/unavailable", h.MarkUnavailable)
	r.Put("/{id}/deal-location", h.SetDealLocation)
}

type createRequest struct {
	LocationID string `json:"locationId" validate:"omitempty,max=64"`
}

type itemRequest struct {
	ProductID        string                   `json:"productId" validate:"required,max=64"`
	DisplayName      string                   `json:"displayName" validate:"max=256"`
	ListName         string                   `json:"listName"`
	Price            int64                    `json:"price" validate:"gte=0"`
	PriceType        string                   `json:"priceType"`
	Quantity         int                      `json:"quantity" validate:"required,min=1,max=99"`
	ModifierGroups   []discount.ModifierGroup `json:"modifierGroups"`
	CategoryValidity []string                 `json:"categoryValidity"`
	ChildItems       []discount.BagChildItem  `json:"childItems"`
}

func (r itemRequest) details() discount.ItemDetails {
	return discount.ItemDetails{
		ProductID:        r.ProductID,
		DisplayName:      r.DisplayName,
		ListName:         r.ListName,
		Price:            r.Price,
		PriceType:        r.PriceType,
		Quantity:         r.Quantity,
		ModifierGroups:   r.ModifierGroups,
		CategoryValidity: r.CategoryValidity,
		ChildItems:       r.ChildItems,
	}
}

type lineRequest struct {
	LineItemID int64 `json:"lineItemId" validate:"required,gt=0"`
	itemRequest
}

type setItemsRequest struct {
	Items    []lineRequest `json:"items" validate:"dive"`
	ForceSet bool          `json:"forceSet"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=99"`
}

type unavailableRequest struct {
	LineItemIDs []int64 `json:"lineItemIds" validate:"required,min=1,dive,gt=0"`
}

type dealLocationRequest struct {
	Applicable *bool `json:"applicable" validate:"required"`
}

// Create starts a new bag for the authenticated customer.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	customerID, ok := common.CustomerID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing customer", nil)
		return
	}
	var payload createRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &payload) {
			return
		}
	}
	st, err := h.Svc.Create(r.Context(), customerID, payload.LocationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": h.view(st)})
}

// Get returns the bag contents and pricing preview.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.load(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(st)})
}

// AddItem appends an item to the bag.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	st, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload itemRequest
	if !h.decode(w, r, &payload) {
		return
	}
	updated, item, err := h.Svc.AddItem(r.Context(), st.BagID, payload.details())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"item": item,
			"bag":  h.view(updated),
		},
	})
}

// SetItems replaces the bag lines, or merges them by line id unless forceSet is given.
func (h *Handler) SetItems(w http.ResponseWriter, r *http.Request) {
	st, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload setItemsRequest
	if !h.decode(w, r, &payload) {
		return
	}
	items := make([]discount.BagItem, 0, len(payload.Items))
	for _, line := range payload.Items {
		items = append(items, line.details().WithLineID(line.LineItemID))
	}
	updated, err := h.Svc.SetItems(r.Context(), st.BagID, items, SetOptions{ForceSet: payload.ForceSet})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(updated)})
}

// UpdateItem changes the quantity of a bag line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	st, ok := h.load(w, r)
	if !ok {
		return
	}
	lineItemID, ok := lineItemParam(w, r)
	if !ok {
		return
	}
	var payload quantityRequest
	if !h.decode(w, r, &payload) {
		return
	}
	updated, err := h.Svc.UpdateQuantity(r.Context(), st.BagID, lineItemID, payload.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(updated)})
}

// RemoveItem deletes a bag line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	st, ok := h.load(w, r)
	if !ok {
		return
	}
	lineItemID, ok := lineItemParam(w, r)
	if !ok {
		return
	}
	updated, err := h.Svc.RemoveItem(r.Context(), st.BagID, lineItemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(updated)})
}

// MarkUnavailable flags lines that can no longer be ordered.
func (h *Handler) MarkUnavailable(w http.ResponseWriter, r *http.Request) {
	st, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload unavailableRequest
	if !h.decode(w, r, &payload) {
		return
	}
	updated, err := h.Svc.MarkUnavailable(r.Context(), st.BagID, payload.LineItemIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(updated)})
}

// SetDealLocation records whether the applied deal is valid at the bag location.
func (h *Handler) SetDealLocation(w http.ResponseWriter, r *http.Request) {
	st, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload dealLocationRequest
	if !h.decode(w, r, &payload) {
		return
	}
	updated, err := h.Svc.SetDealLocationApplicable(r.Context(), st.BagID, *payload.Applicable)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(updated)})
}

// View is the JSON representation of a bag with its pricing preview.
type View struct {
	State
	Currency string          `json:"currency"`
	Pricing  pricing.Summary `json:"pricing"`
}

func (h *Handler) view(st State) View {
	return NewView(st, h.TaxBps, h.Currency)
}

// NewView prices the available bag items and applies the last known discount.
func NewView(st State, taxBps int, currency string) View {
	summary := pricing.Compute(pricing.FromBagItems(st.AvailableItems()), st.DiscountTotal, taxBps, 0)
	return View{State: st, Currency: currency, Pricing: summary}
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (State, bool) {
	customerID, ok := common.CustomerID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing customer", nil)
		return State{}, false
	}
	st, err := h.Svc.GetForCustomer(r.Context(), chi.URLParam(r, "id"), customerID)
	if err != nil {
		h.writeError(w, r, err)
		return State{}, false
	}
	return st, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate == nil {
		return true
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid payload", ValidationDetails(err))
		return false
	}
	return true
}

// ValidationDetails flattens validator errors into field/rule pairs.
func ValidationDetails(err error) []map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, map[string]string{"field": fe.Namespace(), "rule": fe.Tag()})
	}
	return out
}

func lineItemParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "lineItemId"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line item id", nil)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, err)
}

// WriteError maps bag errors to HTTP responses.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "bag not found", nil)
	case errors.Is(err, ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "bag item not found", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusServiceUnavailable, "BAG_BUSY", "bag is being updated, retry shortly", nil)
	case common.WriteAppError(w, err):
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("bag request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process bag", nil)
	}
}
