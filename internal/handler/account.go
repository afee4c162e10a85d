package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	registry   *service.Registry
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService, registry *service.Registry) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc, registry: registry}
}

// registerAccountRequest is the JSON request body for POST /accounts.
type registerAccountRequest struct {
	AccountID     string `json:"account_id"`
	RiskLimitLots int64  `json:"risk_limit_lots"`
}

// accountResponse is the JSON response for account endpoints.
type accountResponse struct {
	AccountID     string             `json:"account_id"`
	RiskLimitLots int64              `json:"risk_limit_lots"`
	CreatedAt     string             `json:"created_at"`
	Positions     []positionResponse `json:"positions"`
}

// positionResponse is one market position in native units.
type positionResponse struct {
	Market       string          `json:"market"`
	Base         decimal.Decimal `json:"base"`
	Quote        decimal.Decimal `json:"quote"`
	BaseLots     int64           `json:"base_lots"`
	QuoteLots    int64           `json:"quote_lots"`
	BidsBaseLots int64           `json:"bids_base_lots"`
	AsksBaseLots int64           `json:"asks_base_lots"`
	OpenOrders   int             `json:"open_orders"`
}

// fillResponse is a settled fill in native units.
type fillResponse struct {
	Market       string          `json:"market"`
	Seq          uint64          `json:"seq"`
	TakerSide    string          `json:"taker_side"`
	Maker        string          `json:"maker"`
	Taker        string          `json:"taker"`
	MakerOrderID string          `json:"maker_order_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	ExecutedAt   string          `json:"executed_at"`
}

// fillListResponse is the paginated response for GET /accounts/{owner}/fills.
type fillListResponse struct {
	Fills []fillResponse `json:"fills"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// Register handles POST /accounts.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	account, err := h.accountSvc.Register(service.RegisterAccountRequest{
		ID:            req.AccountID,
		RiskLimitLots: req.RiskLimitLots,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, accountResponse{
		AccountID:     account.ID.String(),
		RiskLimitLots: account.RiskLimitLots,
		CreatedAt:     account.CreatedAt.UTC().Format(time.RFC3339),
		Positions:     []positionResponse{},
	})
}

// Get handles GET /accounts/{owner}.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.accountSvc.Get(chi.URLParam(r, "owner"))
	if err != nil {
		mapError(w, err)
		return
	}

	positions := make([]positionResponse, 0, len(resp.Positions))
	for _, mp := range resp.Positions {
		pr := positionResponse{
			Market:       mp.Market,
			BaseLots:     mp.Position.BaseLots,
			QuoteLots:    mp.Position.QuoteLots,
			BidsBaseLots: mp.Position.BidsBaseLots,
			AsksBaseLots: mp.Position.AsksBaseLots,
			OpenOrders:   mp.Position.OpenOrders,
		}
		if m, err := h.registry.Get(mp.Market); err == nil {
			pr.Base = m.Market().LotsToQuantity(mp.Position.BaseLots)
			pr.Quote = m.Market().LotsToQuote(mp.Position.QuoteLots)
		}
		positions = append(positions, pr)
	}

	WriteJSON(w, http.StatusOK, accountResponse{
		AccountID:     resp.Account.ID.String(),
		RiskLimitLots: resp.Account.RiskLimitLots,
		CreatedAt:     resp.Account.CreatedAt.UTC().Format(time.RFC3339),
		Positions:     positions,
	})
}

// Close handles DELETE /accounts/{owner}.
func (h *AccountHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.accountSvc.Close(chi.URLParam(r, "owner")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFills handles GET /accounts/{owner}/fills.
func (h *AccountHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		mapError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		mapError(w, err)
		return
	}

	market := r.URL.Query().Get("market")
	if market != "" {
		if _, err := h.registry.Get(market); err != nil {
			mapError(w, err)
			return
		}
	}

	fills, total, err := h.accountSvc.ListFills(chi.URLParam(r, "owner"), market, page, limit)
	if err != nil {
		mapError(w, err)
		return
	}

	items := make([]fillResponse, 0, len(fills))
	for _, f := range fills {
		items = append(items, h.buildFillResponse(f))
	}
	WriteJSON(w, http.StatusOK, fillListResponse{
		Fills: items,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (h *AccountHandler) buildFillResponse(f domain.Fill) fillResponse {
	resp := fillResponse{
		Market:       f.Market,
		Seq:          f.Seq,
		TakerSide:    f.TakerSide.String(),
		Maker:        f.Maker.String(),
		Taker:        f.Taker.String(),
		MakerOrderID: f.MakerOrderID.String(),
		ExecutedAt:   f.ExecutedAt.UTC().Format(time.RFC3339),
	}
	if m, err := h.registry.Get(f.Market); err == nil {
		resp.Price = m.Market().LotsToPrice(f.PriceLots)
		resp.Quantity = m.Market().LotsToQuantity(f.Quantity)
	}
	return resp
}
