package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints of a market.
type OrderHandler struct {
	registry *service.Registry
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(registry *service.Registry) *OrderHandler {
	return &OrderHandler{registry: registry}
}

// orderRequest is one order in native units. TimeInForce is a Go
// duration string such as "30s"; empty means good till cancelled.
type orderRequest struct {
	Side              string           `json:"side"`
	Type              string           `json:"type"`
	Price             *decimal.Decimal `json:"price"`
	Quantity          decimal.Decimal  `json:"quantity"`
	MaxQuote          *decimal.Decimal `json:"max_quote"`
	ClientOrderID     uint64           `json:"client_order_id"`
	ReduceOnly        bool             `json:"reduce_only"`
	TimeInForce       string           `json:"time_in_force"`
	SelfTradeBehavior string           `json:"self_trade_behavior"`
	Peg               *pegRequest      `json:"peg"`
}

type pegRequest struct {
	Offset decimal.Decimal  `json:"offset"`
	Limit  *decimal.Decimal `json:"limit"`
}

// placeOrderRequest is the JSON request body for POST /markets/{market}/orders.
type placeOrderRequest struct {
	Owner string `json:"owner"`
	orderRequest
	Limit *uint8 `json:"limit"`
}

// replaceOrdersRequest is the JSON request body for PUT /markets/{market}/orders/{owner}.
type replaceOrdersRequest struct {
	Orders []orderRequest `json:"orders"`
	Limit  *uint8         `json:"limit"`
}

type fillSummary struct {
	Seq          uint64          `json:"seq"`
	Maker        string          `json:"maker"`
	MakerOrderID string          `json:"maker_order_id"`
	MakerOut     bool            `json:"maker_out"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// placeOrderResponse is the JSON response for POST /markets/{market}/orders.
type placeOrderResponse struct {
	OrderID             *string         `json:"order_id"`
	PostedQuantity      decimal.Decimal `json:"posted_quantity"`
	TakenQuantity       decimal.Decimal `json:"taken_quantity"`
	TakenQuote          decimal.Decimal `json:"taken_quote"`
	DecrementedQuantity decimal.Decimal `json:"decremented_quantity"`
	Fills               []fillSummary   `json:"fills"`
	Iterations          int             `json:"iterations"`
	LimitReached        bool            `json:"limit_reached"`
}

// restingOrderResponse is a resting order in native units.
type restingOrderResponse struct {
	OrderID       string          `json:"order_id"`
	Side          string          `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	ClientOrderID uint64          `json:"client_order_id"`
	CreatedAt     string          `json:"created_at"`
	ExpiresAt     *string         `json:"expires_at"`
}

type restingOrderListResponse struct {
	Orders []restingOrderResponse `json:"orders"`
}

type replaceOrdersResponse struct {
	OrderIDs []*string `json:"order_ids"`
}

type cancelAllResponse struct {
	Cancelled int `json:"cancelled"`
}

// Place handles POST /markets/{market}/orders.
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}

	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	in, err := req.orderRequest.toInput()
	if err != nil {
		mapError(w, err)
		return
	}

	res, err := m.PlaceOrder(service.PlaceOrderRequest{
		Owner:      req.Owner,
		OrderInput: in,
		Limit:      req.Limit,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	market := m.Market()
	resp := placeOrderResponse{
		PostedQuantity:      market.LotsToQuantity(res.PostedLots),
		TakenQuantity:       market.LotsToQuantity(res.TakenBaseLots),
		TakenQuote:          market.LotsToQuote(res.TakenQuoteLots),
		DecrementedQuantity: market.LotsToQuantity(res.DecrementedLots),
		Fills:               make([]fillSummary, 0, len(res.Fills)),
		Iterations:          res.Iterations,
		LimitReached:        res.LimitReached,
	}
	for _, f := range res.Fills {
		resp.Fills = append(resp.Fills, fillSummary{
			Seq:          f.Seq,
			Maker:        f.Maker.String(),
			MakerOrderID: f.MakerOrderID.String(),
			MakerOut:     f.MakerOut,
			Price:        market.LotsToPrice(f.PriceLots),
			Quantity:     market.LotsToQuantity(f.Quantity),
		})
	}

	status := http.StatusOK
	if res.OrderID != nil {
		id := res.OrderID.String()
		resp.OrderID = &id
		status = http.StatusCreated
	}
	WriteJSON(w, status, resp)
}

// List handles GET /markets/{market}/orders/{owner}.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}

	orders, err := m.RestingOrders(chi.URLParam(r, "owner"))
	if err != nil {
		mapError(w, err)
		return
	}

	resp := restingOrderListResponse{Orders: make([]restingOrderResponse, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, buildRestingOrderResponse(m.Market(), o))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Replace handles PUT /markets/{market}/orders/{owner}.
func (h *OrderHandler) Replace(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}

	var req replaceOrdersRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	inputs := make([]service.OrderInput, len(req.Orders))
	for i, o := range req.Orders {
		if inputs[i], err = o.toInput(); err != nil {
			mapError(w, err)
			return
		}
	}

	ids, err := m.ReplaceAllOrders(chi.URLParam(r, "owner"), inputs, req.Limit)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := replaceOrdersResponse{OrderIDs: make([]*string, len(ids))}
	for i, id := range ids {
		if id != nil {
			s := id.String()
			resp.OrderIDs[i] = &s
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// CancelAll handles DELETE /markets/{market}/orders/{owner}.
func (h *OrderHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}

	limit, err := queryUint8(r, "limit")
	if err != nil {
		mapError(w, err)
		return
	}

	n, err := m.CancelAllOrders(chi.URLParam(r, "owner"), r.URL.Query().Get("side"), limit)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cancelAllResponse{Cancelled: n})
}

// Cancel handles DELETE /markets/{market}/orders/{owner}/{order_id}.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}

	o, err := m.CancelOrder(chi.URLParam(r, "owner"), chi.URLParam(r, "order_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildRestingOrderResponse(m.Market(), o))
}

// CancelByClientOrderID handles
// DELETE /markets/{market}/orders/{owner}/client/{client_order_id}.
func (h *OrderHandler) CancelByClientOrderID(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(chi.URLParam(r, "market"))
	if err != nil {
		mapError(w, err)
		return
	}

	clientOrderID, err := strconv.ParseUint(chi.URLParam(r, "client_order_id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "client_order_id must be an unsigned integer")
		return
	}

	o, err := m.CancelOrderByClientOrderID(chi.URLParam(r, "owner"), clientOrderID)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildRestingOrderResponse(m.Market(), o))
}

func (o orderRequest) toInput() (service.OrderInput, error) {
	in := service.OrderInput{
		Side:              o.Side,
		Type:              o.Type,
		Price:             o.Price,
		Quantity:          o.Quantity,
		MaxQuote:          o.MaxQuote,
		ClientOrderID:     o.ClientOrderID,
		ReduceOnly:        o.ReduceOnly,
		SelfTradeBehavior: o.SelfTradeBehavior,
	}
	if o.TimeInForce != "" {
		d, err := time.ParseDuration(o.TimeInForce)
		if err != nil {
			return in, &domain.ValidationError{Message: "time_in_force must be a duration such as 30s"}
		}
		in.TimeInForce = d
	}
	if o.Peg != nil {
		in.Peg = &service.PegInput{Offset: o.Peg.Offset, Limit: o.Peg.Limit}
	}
	return in, nil
}

func buildRestingOrderResponse(m domain.Market, o domain.RestingOrder) restingOrderResponse {
	resp := restingOrderResponse{
		OrderID:       o.ID.String(),
		Side:          o.ID.Side.String(),
		Price:         m.LotsToPrice(o.ID.PriceLots),
		Quantity:      m.LotsToQuantity(o.Quantity),
		ClientOrderID: o.ClientOrderID,
		CreatedAt:     o.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if !o.ExpiresAt.IsZero() {
		s := o.ExpiresAt.UTC().Format(time.RFC3339Nano)
		resp.ExpiresAt = &s
	}
	return resp
}
