package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-rewards/internal/common"
)

// BagOwner reports whether the bag belongs to the customer.
type BagOwner func(r *http.Request, bagID, customerID string) bool

// Handler exposes the discount history of a bag.
type Handler struct {
	Service Service
	Owns    BagOwner
}

// List returns a paginated list of discount applications for the bag.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	bagID := chi.URLParam(r, "id")
	customerID, _ := common.CustomerID(r.Context())
	if h.Owns != nil && !h.Owns(r, bagID, customerID) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "bag not found", nil)
		return
	}
	limit := common.AtoiDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := common.AtoiDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	rows, err := h.Service.List(r.Context(), bagID, limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch discount history", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
