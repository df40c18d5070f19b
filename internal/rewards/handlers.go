package rewards

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-rewards/internal/bag"
	"github.com/noah-isme/backend-rewards/internal/common"
	"github.com/noah-isme/backend-rewards/internal/resilience"
)

// Handler exposes the rewards flow of a bag over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	TaxBps   int
	Currency string
}

// Routes mounts the rewards endpoints. r is expected to be scoped to /bags/{id}/rewards.
func (h *Handler) Routes(r chi.Router) {
	r.Use(ForwardAccessToken)
	r.Post("/apply", h.Apply)
	r.Post("/remove", h.Remove)
	r.Post("/discount", h.Discount)
	r.Get("/eligibility", h.Eligibility)
}

// ForwardAccessToken keeps the caller's bearer token so upstream calls are made on their behalf.
func ForwardAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			r = r.WithContext(WithAccessToken(r.Context(), strings.TrimSpace(header[7:])))
		}
		next.ServeHTTP(w, r)
	})
}

type applyRequest struct {
	Promocode            string `json:"promocode" validate:"required,max=64"`
	DisablePromoUiBrands bool   `json:"disablePromoUiBrands"`
}

type removeRequest struct {
	Promocode string `json:"promocode" validate:"omitempty,max=64"`
}

// Apply redeems a promo code for the bag.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customer(w, r)
	if !ok {
		return
	}
	var payload applyRequest
	if !h.decode(w, r, &payload) {
		return
	}
	res, err := h.Svc.ApplyPromoCode(r.Context(), customerID, chi.URLParam(r, "id"), ApplyInput{
		PromoCode:            payload.Promocode,
		DisablePromoUiBrands: payload.DisablePromoUiBrands,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"offers": res.Offers,
			"bag":    bag.NewView(res.Bag, h.TaxBps, h.Currency),
		},
	})
}

// Remove withdraws the promo code from the bag.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customer(w, r)
	if !ok {
		return
	}
	var payload removeRequest
	if r.ContentLength != 0 && !h.decode(w, r, &payload) {
		return
	}
	st, err := h.Svc.RemovePromoCode(r.Context(), customerID, chi.URLParam(r, "id"), payload.Promocode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bag.NewView(st, h.TaxBps, h.Currency)})
}

// Discount prices the bag and applies the promo to a single unit when needed.
func (h *Handler) Discount(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customer(w, r)
	if !ok {
		return
	}
	res, err := h.Svc.GetRewardsDiscount(r.Context(), customerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"order":           res.Order,
			"outcome":         res.Outcome,
			"targetKind":      res.Target.Kind.String(),
			"targetLineItems": nonNil(res.Target.LineItemIDs),
			"splitLineItemId": res.SplitLineItemID,
			"bag":             bag.NewView(res.Bag, h.TaxBps, h.Currency),
		},
	})
}

// Eligibility previews the promo targets without changing the bag.
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customer(w, r)
	if !ok {
		return
	}
	recurring, _ := strconv.ParseBool(r.URL.Query().Get("recurring"))
	res, err := h.Svc.Eligibility(r.Context(), customerID, chi.URLParam(r, "id"), recurring)
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"targetKind":      res.Target.Kind.String(),
			"targetLineItems": nonNil(res.Target.LineItemIDs),
			"order":           res.Order,
		},
	})
}

func customer(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := common.CustomerID(r.Context())
	if !ok || id == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing customer", nil)
		return "", false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid payload", bag.ValidationDetails(err))
			return false
		}
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *PromoError
	switch {
	case errors.As(err, &perr):
		status := perr.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		message := perr.DefaultErrorMessage
		if message == "" {
			message = "promo code could not be processed"
		}
		common.JSONError(w, status, perr.ErrorCode, message, perr)
	case errors.Is(err, ErrPromoCodeRequired):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, resilience.ErrOpenCircuit):
		common.JSONError(w, http.StatusServiceUnavailable, "REWARDS_UNAVAILABLE", "rewards service unavailable", nil)
	case errors.Is(err, ErrDiscountFailed):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("discount pricing failed")
		common.JSONError(w, http.StatusBadGateway, "DISCOUNT_FAILED", "discount application failed", nil)
	default:
		bag.WriteError(w, r, err)
	}
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
