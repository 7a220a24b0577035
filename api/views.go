package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"stock-trading-backend/orderbook"
)

func (h *Handler) activeOrders(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ActiveOrders(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": entries,
		"books":  orderbook.Build(entries),
	})
}

type bookResponse struct {
	orderbook.Depth
	Spread *decimal.Decimal `json:"spread"`
}

func (h *Handler) orderBook(w http.ResponseWriter, r *http.Request) {
	ticker := normalizeTicker(mux.Vars(r)["ticker"])
	if !tickerPattern.MatchString(ticker) {
		writeError(w, http.StatusBadRequest, "Invalid ticker")
		return
	}
	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid depth")
			return
		}
		depth = n
	}

	entries, err := h.store.ActiveOrders(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	book := orderbook.For(ticker, entries)
	resp := bookResponse{Depth: book.Depth(depth)}
	if spread, ok := book.Spread(); ok {
		resp.Spread = &spread
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.OrderStatus(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": rows})
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.OrderHistory(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
