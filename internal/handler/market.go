package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/service"
)

// maxEventsPerRead caps how many events a single events request returns.
const maxEventsPerRead = 500

// MarketHandler handles HTTP requests for market endpoints.
type MarketHandler struct {
	registry *service.Registry
	crank    *service.Crank
}

// NewMarketHandler creates a new MarketHandler. crank may be nil.
func NewMarketHandler(registry *service.Registry, crank *service.Crank) *MarketHandler {
	return &MarketHandler{registry: registry, crank: crank}
}

// marketResponse is the JSON response for market endpoints.
type marketResponse struct {
	Name         string           `json:"name"`
	BaseLotSize  int64            `json:"base_lot_size"`
	QuoteLotSize int64            `json:"quote_lot_size"`
	ReduceOnly   bool             `json:"reduce_only"`
	OraclePrice  *decimal.Decimal `json:"oracle_price"`
	BookCapacity int              `json:"book_capacity"`
	Bids         int              `json:"bids"`
	Asks         int              `json:"asks"`
	EventHead    uint64           `json:"event_head"`
	EventNext    uint64           `json:"event_next"`
	EventFree    int              `json:"event_free"`
}

type marketListResponse struct {
	Markets []marketResponse `json:"markets"`
}

// setOracleRequest is the JSON request body for PUT /markets/{market}/oracle.
type setOracleRequest struct {
	Price *decimal.Decimal `json:"price"`
}

// eventResponse is one queued event in native units. Fill fields and out
// fields are mutually exclusive.
type eventResponse struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Quantity  decimal.Decimal `json:"quantity"`

	TakerSide          string           `json:"taker_side,omitempty"`
	Maker              string           `json:"maker,omitempty"`
	Taker              string           `json:"taker,omitempty"`
	MakerOrderID       string           `json:"maker_order_id,omitempty"`
	MakerClientOrderID uint64           `json:"maker_client_order_id,omitempty"`
	TakerClientOrderID uint64           `json:"taker_client_order_id,omitempty"`
	MakerOut           bool             `json:"maker_out,omitempty"`
	Price              *decimal.Decimal `json:"price,omitempty"`

	Owner   string `json:"owner,omitempty"`
	Side    string `json:"side,omitempty"`
	OrderID string `json:"order_id,omitempty"`
}

// eventListResponse is the JSON response for GET /markets/{market}/events.
// Missed counts events evicted before they could be read.
type eventListResponse struct {
	Events []eventResponse `json:"events"`
	Next   uint64          `json:"next"`
	Missed uint64          `json:"missed"`
}

// crankResponse is the JSON response for GET /crank.
type crankResponse struct {
	Ticks   uint64 `json:"ticks"`
	Expired uint64 `json:"expired"`
	Fills   uint64 `json:"fills"`
	Outs    uint64 `json:"outs"`
	Missed  uint64 `json:"missed"`
	Backlog int    `json:"backlog"`
}

// List handles GET /markets.
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	markets := h.registry.All()
	resp := marketListResponse{Markets: make([]marketResponse, 0, len(markets))}
	for _, m := range markets {
		resp.Markets = append(resp.Markets, buildMarketResponse(m.Info()))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /markets/{market}.
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildMarketResponse(m.Info()))
}

// SetOracle handles PUT /markets/{market}/oracle.
func (h *MarketHandler) SetOracle(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}

	var req setOracleRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Price == nil || !req.Price.IsPositive() {
		WriteError(w, http.StatusBadRequest, "validation_error", "price must be positive")
		return
	}
	if err := m.SetOraclePrice(*req.Price); err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildMarketResponse(m.Info()))
}

// Events handles GET /markets/{market}/events. Reading does not
// acknowledge; the crank is the queue's consumer.
func (h *MarketHandler) Events(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}

	from, err := queryInt(r, "from", -1)
	if err != nil {
		mapError(w, err)
		return
	}
	maxEvents, err := queryInt(r, "max", 100)
	if err != nil {
		mapError(w, err)
		return
	}
	if maxEvents < 1 || maxEvents > maxEventsPerRead {
		WriteError(w, http.StatusBadRequest, "validation_error", "max must be between 1 and 500")
		return
	}
	start := m.Info().EventHead
	if from >= 0 {
		start = uint64(from)
	}

	events, next, err := m.ReadEvents(start, maxEvents)
	var missed uint64
	if err != nil {
		var gap *domain.GapError
		if !errors.As(err, &gap) {
			mapError(w, err)
			return
		}
		missed = gap.Missed()
	}

	market := m.Market()
	resp := eventListResponse{
		Events: make([]eventResponse, 0, len(events)),
		Next:   next,
		Missed: missed,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, buildEventResponse(market, e))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// CrankStats handles GET /crank.
func (h *MarketHandler) CrankStats(w http.ResponseWriter, r *http.Request) {
	if h.crank == nil {
		WriteJSON(w, http.StatusOK, crankResponse{})
		return
	}
	s := h.crank.Stats()
	WriteJSON(w, http.StatusOK, crankResponse{
		Ticks:   s.Ticks,
		Expired: s.Expired,
		Fills:   s.Fills,
		Outs:    s.Outs,
		Missed:  s.Missed,
		Backlog: h.crank.Backlog(),
	})
}

func buildMarketResponse(info service.MarketInfo) marketResponse {
	resp := marketResponse{
		Name:         info.Name,
		BaseLotSize:  info.BaseLotSize,
		QuoteLotSize: info.QuoteLotSize,
		ReduceOnly:   info.ReduceOnly,
		BookCapacity: info.BookCapacity,
		Bids:         info.Bids,
		Asks:         info.Asks,
		EventHead:    info.EventHead,
		EventNext:    info.EventNext,
		EventFree:    info.EventFree,
	}
	if info.OraclePrice.IsPositive() {
		p := info.OraclePrice
		resp.OraclePrice = &p
	}
	return resp
}

func buildEventResponse(m domain.Market, e domain.Event) eventResponse {
	resp := eventResponse{
		Seq:       e.Seq,
		Type:      e.Type.String(),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Quantity:  m.LotsToQuantity(e.Quantity),
	}
	if e.Type == domain.EventFill {
		price := m.LotsToPrice(e.PriceLots)
		resp.TakerSide = e.TakerSide.String()
		resp.Maker = e.Maker.String()
		resp.Taker = e.Taker.String()
		resp.MakerOrderID = e.MakerOrderID.String()
		resp.MakerClientOrderID = e.MakerClientOrderID
		resp.TakerClientOrderID = e.TakerClientOrderID
		resp.MakerOut = e.MakerOut
		resp.Price = &price
		return resp
	}
	resp.Owner = e.Owner.String()
	resp.Side = e.Side.String()
	if e.OrderID != (domain.OrderID{}) {
		resp.OrderID = e.OrderID.String()
	}
	return resp
}
