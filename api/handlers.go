/*
handlers.go - HTTP API handlers for the affiliate commission engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Affiliates:
    POST   /api/affiliates                        Register affiliate
    GET    /api/affiliates/{code}                 Record incl. balances
    GET    /api/affiliates/{code}/commissions     Ledger entries
    GET    /api/affiliates/{code}/downline        Downline tree

  Products:
    POST   /api/products                          Create with rate table
    GET    /api/products                          List
    GET    /api/products/{id}                     Get

  Orders:
    POST   /api/orders/completed                  Order completion event

  Payouts:
    POST   /api/payouts                           Confirm/cancel a payout

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Affiliate/product/entry not found
  - 409: Conflict (duplicate code, payout already processed)
  - 500: Internal errors
  Order completion NEVER fails the purchase over commission problems:
  integrity errors degrade to fewer or zero commissions with 200.

SECURITY NOTE:
  Authentication and session handling live in an upstream gateway; all
  endpoints here are unauthenticated.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/netweave/affiliate-engine/affiliate"
	"github.com/netweave/affiliate-engine/commission"
	"github.com/netweave/affiliate-engine/downline"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Directory  affiliate.Directory
	Catalog    commission.Catalog
	Ledger     commission.Ledger
	Registrar  *affiliate.Registrar
	Guard      *affiliate.Guard
	Calculator *commission.Calculator
	Builder    *downline.Builder

	// DefaultBudget applies to downline renders with no explicit budget.
	DefaultBudget int

	Log zerolog.Logger
}

// =============================================================================
// AFFILIATE HANDLERS
// =============================================================================

func (h *Handler) RegisterAffiliate(w http.ResponseWriter, r *http.Request) {
	var req RegisterAffiliateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "name and email are required", nil)
		return
	}

	a := &affiliate.Affiliate{
		Code:        affiliate.Code(req.Code),
		SponsorCode: affiliate.Code(req.SponsorCode),
		Name:        req.Name,
		Email:       req.Email,
	}

	switch err := h.Registrar.Register(r.Context(), a); {
	case errors.Is(err, affiliate.ErrSponsorNotFound):
		writeError(w, http.StatusBadRequest, "Invalid sponsor code", err)
		return
	case errors.Is(err, affiliate.ErrDuplicateCode):
		writeError(w, http.StatusConflict, "Affiliate code already registered", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to register affiliate", err)
		return
	}

	writeJSON(w, http.StatusCreated, affiliateDTO(a))
}

func (h *Handler) GetAffiliate(w http.ResponseWriter, r *http.Request) {
	code := affiliate.Code(chi.URLParam(r, "code"))

	a, err := h.Directory.ByCode(r.Context(), code)
	if err != nil {
		if affiliate.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Affiliate not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get affiliate", err)
		return
	}

	writeJSON(w, http.StatusOK, affiliateDTO(a))
}

func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	code := affiliate.Code(chi.URLParam(r, "code"))
	status := commission.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	if _, err := h.Directory.ByCode(r.Context(), code); err != nil {
		if affiliate.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Affiliate not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get affiliate", err)
		return
	}

	entries, err := h.Ledger.ByBeneficiary(r.Context(), code, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}

	dtos := make([]CommissionDTO, len(entries))
	for i, c := range entries {
		dtos[i] = commissionDTO(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"commissions": dtos})
}

// =============================================================================
// DOWNLINE HANDLER
// =============================================================================

func (h *Handler) GetDownline(w http.ResponseWriter, r *http.Request) {
	code := affiliate.Code(chi.URLParam(r, "code"))

	maxDepth := h.Builder.MaxDepth
	if s := r.URL.Query().Get("max_depth"); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "Invalid max_depth", err)
			return
		}
		maxDepth = d // clamped to the configured cap by the builder
	}

	budget := h.DefaultBudget
	if s := r.URL.Query().Get("budget"); s != "" {
		b, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid budget", err)
			return
		}
		budget = b
	}

	tree, err := h.Builder.Build(r.Context(), code, maxDepth, budget)
	if err != nil {
		if affiliate.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Affiliate not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to build downline tree", err)
		return
	}

	writeJSON(w, http.StatusOK, DownlineResponse{
		Root:      tree.Root,
		Truncated: tree.Truncated,
		Visited:   tree.Visited,
	})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	price, err := affiliate.MoneyFromString(req.Price)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	pairs := make([]commission.LevelRate, 0, len(req.LevelCommissions))
	for _, lc := range req.LevelCommissions {
		rate, err := affiliate.MoneyFromString(lc.Rate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid rate", err)
			return
		}
		pairs = append(pairs, commission.LevelRate{Level: lc.Level, Rate: rate.Value})
	}
	table, err := commission.NewRateTable(pairs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate table", err)
		return
	}

	p := &commission.Product{
		ID:        xid.New().String(),
		Name:      req.Name,
		Price:     price,
		Active:    true,
		Levels:    table,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Catalog.SaveProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create product", err)
		return
	}

	writeJSON(w, http.StatusCreated, productDTO(p))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Catalog.Product(r.Context(), id)
	if err != nil {
		if errors.Is(err, commission.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "Product not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, productDTO(p))
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.Products(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = productDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": dtos})
}

// =============================================================================
// ORDER COMPLETION HANDLER
// =============================================================================

// OrderCompleted receives the completion event from the order service and
// runs the commission calculation. The purchase already succeeded
// upstream: commission problems degrade the response, they never turn it
// into an error the order service would retry forever.
func (h *Handler) OrderCompleted(w http.ResponseWriter, r *http.Request) {
	var req OrderCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrderID == "" || req.BuyerCode == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "orderId, buyerCode and productId are required", nil)
		return
	}
	total, err := affiliate.MoneyFromString(req.TotalAmount)
	if err != nil || total.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid totalAmount", err)
		return
	}

	written, err := h.Calculator.Compute(r.Context(), commission.OrderEvent{
		OrderID:     req.OrderID,
		BuyerCode:   affiliate.Code(req.BuyerCode),
		ProductID:   req.ProductID,
		TotalAmount: total,
	})
	if err != nil {
		// Store-level failure mid-walk. Entries already committed stay
		// valid; report what was written and let re-delivery finish the
		// rest idempotently.
		h.Log.Error().Err(err).Str("order_id", req.OrderID).Msg("commission calculation incomplete")
	}

	dtos := make([]CommissionDTO, len(written))
	for i, c := range written {
		dtos[i] = commissionDTO(c)
	}
	writeJSON(w, http.StatusOK, OrderCompletedResponse{OrderID: req.OrderID, Commissions: dtos})
}

// =============================================================================
// PAYOUT HANDLER
// =============================================================================

// Payout confirms or cancels a pending commission. Status moves first
// (compare-and-set, so a payout cannot apply twice), then balances move
// through the Guard; a failed balance move reverts the status.
func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var target commission.Status
	switch req.Action {
	case "confirm":
		target = commission.StatusPaid
	case "cancel":
		target = commission.StatusCancelled
	default:
		writeError(w, http.StatusBadRequest, "action must be confirm or cancel", nil)
		return
	}

	ctx := r.Context()
	entry, err := h.Ledger.Entry(ctx, req.CommissionID)
	if err != nil {
		if errors.Is(err, commission.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "Commission not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load commission", err)
		return
	}

	if err := h.Ledger.SetStatus(ctx, entry.ID, commission.StatusPending, target); err != nil {
		if errors.Is(err, commission.ErrInvalidStatus) {
			writeError(w, http.StatusConflict, "Commission already processed", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update commission", err)
		return
	}

	var balanceErr error
	if target == commission.StatusPaid {
		balanceErr = h.Guard.Transition(ctx, entry.BeneficiaryCode,
			affiliate.FieldPending, affiliate.FieldAvailable, entry.Amount)
	} else {
		balanceErr = h.Guard.Credit(ctx, entry.BeneficiaryCode,
			affiliate.FieldPending, entry.Amount.Neg())
	}
	if balanceErr != nil {
		// Revert the status so ledger and balances stay consistent.
		if revertErr := h.Ledger.SetStatus(ctx, entry.ID, target, commission.StatusPending); revertErr != nil {
			h.Log.Error().Err(revertErr).Str("commission_id", entry.ID).
				Msg("payout revert failed, ledger and balance diverged")
		}
		writeError(w, http.StatusInternalServerError, "Failed to move balance", balanceErr)
		return
	}

	entry.Status = target
	writeJSON(w, http.StatusOK, commissionDTO(entry))
}

// =============================================================================
// HELPERS
// =============================================================================

func affiliateDTO(a *affiliate.Affiliate) AffiliateDTO {
	return AffiliateDTO{
		ID:                  a.ID,
		Code:                string(a.Code),
		SponsorCode:         string(a.SponsorCode),
		Name:                a.Name,
		Email:               a.Email,
		BalancePending:      a.BalancePending.String(),
		BalanceAvailable:    a.BalanceAvailable.String(),
		TotalEarnings:       a.TotalEarnings.String(),
		DirectReferralCount: a.DirectReferralCount,
		DownlineCount:       a.DownlineCount,
		Active:              a.Active,
		JoinedAt:            a.JoinedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
