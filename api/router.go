package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"stock-trading-backend/events"
	"stock-trading-backend/relay"
	"stock-trading-backend/store"
)

// Options wires the dependencies of the HTTP API. Relay may be nil.
type Options struct {
	Store        store.Store
	Events       events.Publisher
	Relay        relay.Notifier
	Logger       *slog.Logger
	ServiceName  string
	ServiceToken string
	CORSOrigins  []string
}

type Handler struct {
	store        store.Store
	events       events.Publisher
	relay        relay.Notifier
	logger       *slog.Logger
	serviceToken string
}

// NewRouter builds the full HTTP handler: routes, middleware, CORS and
// panic recovery.
func NewRouter(opts Options) http.Handler {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		store:        opts.Store,
		events:       opts.Events,
		relay:        opts.Relay,
		logger:       opts.Logger,
		serviceToken: opts.ServiceToken,
	}

	r := mux.NewRouter()
	r.Use(otelmux.Middleware(opts.ServiceName))
	r.Use(requestID)
	r.Use(h.observe)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/users", h.createUser).Methods(http.MethodPost)
	r.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users/{username}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{username}/balance", h.getBalance).Methods(http.MethodGet)
	r.HandleFunc("/users/{username}/balance", h.updateBalance).Methods(http.MethodPut)
	r.HandleFunc("/users/{username}/portfolio", h.portfolio).Methods(http.MethodGet)
	r.HandleFunc("/users/{username}/orders/status", h.orderStatus).Methods(http.MethodGet)
	r.HandleFunc("/users/{username}/orders/history", h.orderHistory).Methods(http.MethodGet)

	r.HandleFunc("/orders/parent", h.createParentOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/parent/{id:[0-9]+}", h.getParentOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/parent/{id:[0-9]+}/complete", h.completeParentOrder).Methods(http.MethodPut)
	r.HandleFunc("/orders/child", h.createChildOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/child/{id:[0-9]+}/complete", h.completeChildOrder).Methods(http.MethodPut)
	r.HandleFunc("/orders/active", h.activeOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders/book/{ticker}", h.orderBook).Methods(http.MethodGet)

	callbacks := r.PathPrefix("/relay").Subrouter()
	callbacks.Use(h.requireServiceToken)
	callbacks.HandleFunc("/fills", h.relayFill).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(opts.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{opts.Logger}),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(cors(r))
}
