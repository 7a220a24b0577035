package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the side of an order.
type OrderType string

const (
	Buy  OrderType = "buy"
	Sell OrderType = "sell"
)

// Valid reports whether t is one of the two accepted sides.
func (t OrderType) Valid() bool { return t == Buy || t == Sell }

// Status is the lifecycle state shared by parent and child orders.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderCompleted     = errors.New("order already completed")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrExceedsParent      = errors.New("child order exceeds parent order")
	ErrChildrenPending    = errors.New("parent order has pending child orders")
)

type User struct {
	Username       string          `json:"username"`
	AccountBalance decimal.Decimal `json:"account_balance"`
}

type Asset struct {
	AssetID int64  `json:"assetid"`
	Ticker  string `json:"ticker"`
	Shares  int64  `json:"shares"`
}

type Holding struct {
	Ticker string `json:"ticker"`
	Shares int64  `json:"shares"`
}

type UserSummary struct {
	Username       string          `json:"username"`
	AccountBalance decimal.Decimal `json:"account_balance"`
	Holdings       []Holding       `json:"holdings"`
	OpenOrders     int             `json:"open_orders"`
}

type Portfolio struct {
	UserSummary  UserSummary `json:"user_summary"`
	AssetDetails []Asset     `json:"asset_details"`
}

type ParentOrder struct {
	ID        int64           `json:"parent_order_id"`
	Ticker    string          `json:"ticker"`
	Shares    int64           `json:"shares"`
	Type      OrderType       `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Username  string          `json:"username"`
	Status    Status          `json:"total_status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Children  []ChildOrder    `json:"children,omitempty"`
}

type ChildOrder struct {
	ID            int64           `json:"child_order_id"`
	ParentOrderID int64           `json:"parent_order_id"`
	Ticker        string          `json:"ticker"`
	Username      string          `json:"username"`
	Type          OrderType       `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Shares        int64           `json:"shares"`
	Status        Status          `json:"status"`
	TradeID       *int64          `json:"trade_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Notional is price times shares rounded to cents.
func (c ChildOrder) Notional() decimal.Decimal {
	return c.Price.Mul(decimal.NewFromInt(c.Shares)).Round(2)
}

// ChildCompletion is the result of completing a child order. Balance is
// the owner's balance after settlement. Parent is set when the fill closed
// its parent order too.
type ChildCompletion struct {
	Child   ChildOrder
	Balance decimal.Decimal
	Parent  *ParentOrder
}

type NewParentOrder struct {
	Ticker   string
	Shares   int64
	Type     OrderType
	Amount   decimal.Decimal
	Username string
}

type NewChildOrder struct {
	ParentOrderID int64
	Price         decimal.Decimal
	Shares        int64
}

// BookEntry is one pending child order as listed in the order book.
type BookEntry struct {
	ChildOrderID  int64           `json:"corderid"`
	ParentOrderID int64           `json:"porderid"`
	Ticker        string          `json:"ticker"`
	Type          OrderType       `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Shares        int64           `json:"shares"`
	Time          time.Time       `json:"time"`
}

const (
	StageAwaitingExecution = "awaiting_execution"
	StageExecuting         = "executing"
	StageExecuted          = "executed"
)

type OrderStatusRow struct {
	ParentOrderID      int64            `json:"parent_order_id"`
	Ticker             string           `json:"ticker"`
	OrderType          OrderType        `json:"order_type"`
	ParentStatus       Status           `json:"parent_status"`
	OrderPlacementTime time.Time        `json:"order_placement_time"`
	ChildOrderID       *int64           `json:"child_order_id"`
	ChildShares        *int64           `json:"child_shares"`
	ChildStatus        *Status          `json:"child_status"`
	ExecutionPrice     *decimal.Decimal `json:"execution_price"`
	LastUpdateTime     time.Time        `json:"last_update_time"`
	OrderStage         string           `json:"order_stage"`
}

type CompletedOrder struct {
	ParentOrderID int64           `json:"parent_order_id"`
	Ticker        string          `json:"ticker"`
	OrderType     OrderType       `json:"order_type"`
	Shares        int64           `json:"shares"`
	Amount        decimal.Decimal `json:"amount"`
	TotalStatus   Status          `json:"total_status"`
	OrderTime     time.Time       `json:"order_time"`
	AveragePrice  decimal.Decimal `json:"average_price"`
}

// Store is the persistence boundary of the service. Every mutating call
// runs in a single database transaction.
type Store interface {
	CreateUser(ctx context.Context, username string, initialBalance decimal.Decimal) (*User, error)
	GetUser(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	GetBalance(ctx context.Context, username string) (decimal.Decimal, error)
	UpdateBalance(ctx context.Context, username string, balance decimal.Decimal) error
	GetPortfolio(ctx context.Context, username string) (*Portfolio, error)

	CreateParentOrder(ctx context.Context, o NewParentOrder) (*ParentOrder, error)
	CreateChildOrder(ctx context.Context, o NewChildOrder) (*ChildOrder, error)
	CompleteChildOrder(ctx context.Context, id int64) (*ChildCompletion, error)
	FillParentOrder(ctx context.Context, o NewChildOrder) (*ChildCompletion, error)
	CompleteParentOrder(ctx context.Context, id int64) (*ParentOrder, error)
	GetParentOrder(ctx context.Context, id int64) (*ParentOrder, error)

	ActiveOrders(ctx context.Context) ([]BookEntry, error)
	OrderStatus(ctx context.Context, username string) ([]OrderStatusRow, error)
	OrderHistory(ctx context.Context, username string) ([]CompletedOrder, error)

	Ping(ctx context.Context) error
	Close() error
}
