package api

import (
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"stock-trading-backend/events"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

type createUserRequest struct {
	Username       string           `json:"username"`
	InitialBalance *decimal.Decimal `json:"initial_balance"`
}

type balanceResponse struct {
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !usernamePattern.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "Invalid username")
		return
	}
	balance := decimal.Zero
	if req.InitialBalance != nil {
		balance = *req.InitialBalance
	}
	if balance.IsNegative() {
		writeError(w, http.StatusBadRequest, "Initial balance cannot be negative")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, balance)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	events.Emit(r.Context(), h.events, h.log(r), events.ExchangeUsers, events.UserCreated, events.Event{
		"username": user.Username,
		"balance":  user.AccountBalance,
	})
	writeJSON(w, http.StatusCreated, balanceResponse{Username: user.Username, Balance: user.AccountBalance})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	balance, err := h.store.GetBalance(r.Context(), username)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Username: username, Balance: balance})
}

func (h *Handler) updateBalance(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	var req struct {
		Balance *decimal.Decimal `json:"balance"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Balance == nil || req.Balance.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid balance value")
		return
	}
	balance := req.Balance.Round(2)
	if err := h.store.UpdateBalance(r.Context(), username, balance); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	events.Emit(r.Context(), h.events, h.log(r), events.ExchangeUsers, events.UserBalanceUpdated, events.Event{
		"username":    username,
		"new_balance": balance,
	})
	writeJSON(w, http.StatusOK, map[string]any{"username": username, "new_balance": balance})
}

func (h *Handler) portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPortfolio(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
