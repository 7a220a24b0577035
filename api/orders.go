package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"stock-trading-backend/events"
	"stock-trading-backend/store"
	"stock-trading-backend/telemetry"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.]{1,10}$`)

func normalizeTicker(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

type createParentRequest struct {
	Ticker   string           `json:"ticker"`
	Shares   *int64           `json:"shares"`
	Type     string           `json:"type"`
	Amount   *decimal.Decimal `json:"amount"`
	Username string           `json:"username"`
}

type parentOrderResponse struct {
	OrderID int64 `json:"order_id"`
	*store.ParentOrder
	Relayed *bool `json:"relayed,omitempty"`
}

func (h *Handler) createParentOrder(w http.ResponseWriter, r *http.Request) {
	var req createParentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Ticker == "" || req.Shares == nil || req.Type == "" || req.Amount == nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if *req.Shares <= 0 || !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Shares and amount must be positive")
		return
	}
	side := store.OrderType(req.Type)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "Order type must be 'buy' or 'sell'")
		return
	}
	ticker := normalizeTicker(req.Ticker)
	if !tickerPattern.MatchString(ticker) {
		writeError(w, http.StatusBadRequest, "Invalid ticker")
		return
	}

	order, err := h.store.CreateParentOrder(r.Context(), store.NewParentOrder{
		Ticker:   ticker,
		Shares:   *req.Shares,
		Type:     side,
		Amount:   *req.Amount,
		Username: req.Username,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	telemetry.OrdersTotal.WithLabelValues("parent", string(order.Type)).Inc()
	events.Emit(r.Context(), h.events, h.log(r), events.ExchangeOrders, events.ParentCreated, events.Event{
		"parent_order_id": order.ID,
		"username":        order.Username,
		"ticker":          order.Ticker,
		"shares":          order.Shares,
		"type":            order.Type,
		"amount":          order.Amount,
	})

	resp := parentOrderResponse{OrderID: order.ID, ParentOrder: order}
	if h.relay != nil {
		relayed := true
		if err := h.relay.NotifyParentOrder(r.Context(), order); err != nil {
			relayed = false
			h.log(r).WarnContext(r.Context(), "relay notification failed",
				"parent_order_id", order.ID, "error", err)
		}
		resp.Relayed = &relayed
	}
	writeJSON(w, http.StatusCreated, resp)
}

type createChildRequest struct {
	ParentOrderID *int64           `json:"parent_order_id"`
	Price         *decimal.Decimal `json:"price"`
	Shares        *int64           `json:"shares"`
	Amount        *decimal.Decimal `json:"amount"`
}

type childOrderResponse struct {
	ChildOrderID  int64           `json:"child_order_id"`
	ParentOrderID int64           `json:"parent_order_id"`
	Ticker        string          `json:"ticker"`
	Type          store.OrderType `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Shares        int64           `json:"shares"`
	Amount        decimal.Decimal `json:"amount"`
	Status        store.Status    `json:"status"`
}

func newChildOrderResponse(c *store.ChildOrder) childOrderResponse {
	return childOrderResponse{
		ChildOrderID:  c.ID,
		ParentOrderID: c.ParentOrderID,
		Ticker:        c.Ticker,
		Type:          c.Type,
		Price:         c.Price,
		Shares:        c.Shares,
		Amount:        c.Notional(),
		Status:        c.Status,
	}
}

func (h *Handler) createChildOrder(w http.ResponseWriter, r *http.Request) {
	var req createChildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ParentOrderID == nil || req.Price == nil || req.Shares == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if !req.Price.IsPositive() || *req.Shares <= 0 || (req.Amount != nil && !req.Amount.IsPositive()) {
		writeError(w, http.StatusBadRequest, "Price, shares, and amount must be positive")
		return
	}
	o := store.NewChildOrder{ParentOrderID: *req.ParentOrderID, Price: *req.Price, Shares: *req.Shares}
	if req.Amount != nil {
		notional := o.Price.Mul(decimal.NewFromInt(o.Shares)).Round(2)
		if !req.Amount.Round(2).Equal(notional) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Amount must equal price times shares (%s)", notional))
			return
		}
	}

	child, err := h.store.CreateChildOrder(r.Context(), o)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.childCreated(r, child, "child")
	writeJSON(w, http.StatusCreated, newChildOrderResponse(child))
}

func (h *Handler) childCreated(r *http.Request, child *store.ChildOrder, kind string) {
	telemetry.OrdersTotal.WithLabelValues(kind, string(child.Type)).Inc()
	events.Emit(r.Context(), h.events, h.log(r), events.ExchangeOrders, events.ChildCreated, events.Event{
		"child_order_id":  child.ID,
		"parent_order_id": child.ParentOrderID,
		"ticker":          child.Ticker,
		"type":            child.Type,
		"price":           child.Price,
		"shares":          child.Shares,
	})
}

// childCompleted publishes the completion events of a fill.
func (h *Handler) childCompleted(r *http.Request, res *store.ChildCompletion) {
	c := res.Child
	events.Emit(r.Context(), h.events, h.log(r), events.ExchangeOrders, events.ChildCompleted, events.Event{
		"child_order_id":  c.ID,
		"parent_order_id": c.ParentOrderID,
		"username":        c.Username,
		"ticker":          c.Ticker,
		"type":            c.Type,
		"price":           c.Price,
		"shares":          c.Shares,
		"trade_id":        c.TradeID,
	})
	if res.Parent != nil {
		h.parentCompleted(r, res.Parent)
	}
}

func (h *Handler) parentCompleted(r *http.Request, p *store.ParentOrder) {
	events.Emit(r.Context(), h.events, h.log(r), events.ExchangeOrders, events.ParentCompleted, events.Event{
		"parent_order_id": p.ID,
		"username":        p.Username,
		"ticker":          p.Ticker,
	})
}

type completeChildResponse struct {
	Message         string             `json:"message"`
	ChildOrder      childOrderResponse `json:"child_order"`
	ParentCompleted bool               `json:"parent_completed"`
}

func (h *Handler) completeChildOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.store.CompleteChildOrder(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.childCompleted(r, res)
	writeJSON(w, http.StatusOK, completeChildResponse{
		Message:         fmt.Sprintf("Child order %d completed successfully", id),
		ChildOrder:      newChildOrderResponse(&res.Child),
		ParentCompleted: res.Parent != nil,
	})
}

func (h *Handler) completeParentOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	parent, err := h.store.CompleteParentOrder(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.parentCompleted(r, parent)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Parent order %d completed successfully", id),
	})
}

type parentWithChildren struct {
	*store.ParentOrder
	Children []store.ChildOrder `json:"children"`
}

func (h *Handler) getParentOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	parent, err := h.store.GetParentOrder(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	children := parent.Children
	if children == nil {
		children = []store.ChildOrder{}
	}
	writeJSON(w, http.StatusOK, parentWithChildren{ParentOrder: parent, Children: children})
}

type fillRequest struct {
	ParentOrderID *int64           `json:"parent_order_id"`
	Price         *decimal.Decimal `json:"price"`
	Shares        *int64           `json:"shares"`
}

// relayFill records an execution reported by the relay service as a child
// order and settles it atomically.
func (h *Handler) relayFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ParentOrderID == nil || req.Price == nil || req.Shares == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if !req.Price.IsPositive() || *req.Shares <= 0 {
		writeError(w, http.StatusBadRequest, "Price and shares must be positive")
		return
	}

	res, err := h.store.FillParentOrder(r.Context(), store.NewChildOrder{
		ParentOrderID: *req.ParentOrderID,
		Price:         *req.Price,
		Shares:        *req.Shares,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.childCreated(r, &res.Child, "fill")
	h.childCompleted(r, res)
	writeJSON(w, http.StatusCreated, completeChildResponse{
		Message:         fmt.Sprintf("Child order %d completed successfully", res.Child.ID),
		ChildOrder:      newChildOrderResponse(&res.Child),
		ParentCompleted: res.Parent != nil,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid order id")
		return 0, false
	}
	return id, true
}
