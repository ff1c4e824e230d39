package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sheikh-saqib/exchange-ledger/internal/ledger"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"go.uber.org/zap"
)

// Server exposes the ledger over REST and streams its events over WebSocket.
type Server struct {
	ledger      *ledger.Ledger
	router      *mux.Router
	hub         *Hub
	logger      *zap.SugaredLogger
	corsOrigins []string
	unsubscribe func()
}

// NewServer wires the routes and subscribes the WebSocket hub to l's events.
func NewServer(l *ledger.Ledger, corsOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger:      l,
		router:      mux.NewRouter(),
		hub:         NewHub(logger),
		logger:      logger.Sugar(),
		corsOrigins: corsOrigins,
	}
	s.setupRoutes()
	s.unsubscribe = l.OnEvent(s.broadcastEvent)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Account views
	api.HandleFunc("/accounts/{account}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{account}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{account}/entries", s.handleGetEntries).Methods("GET")
	api.HandleFunc("/accounts/{account}/holds", s.handleGetAccountHolds).Methods("GET")

	// Holds
	api.HandleFunc("/holds", s.handleCreateHold).Methods("POST")
	api.HandleFunc("/holds/{order}", s.handleGetHold).Methods("GET")
	api.HandleFunc("/holds/{order}/release", s.handleReleaseHold).Methods("POST")
	api.HandleFunc("/holds/{order}/consume", s.handleConsumeHold).Methods("POST")

	// Money movement
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/settlements", s.handleSettleTrade).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key"},
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.unsubscribe()
	return srv.Shutdown(shutdownCtx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	balances, err := s.ledger.GetAccountBalances(r.Context(), account)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BalancesResponse{AccountID: account, Balances: balances})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, err := s.ledger.GetBalance(r.Context(), vars["account"], vars["asset"])
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	filter, err := parseEntryFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}
	entries, err := s.ledger.GetEntries(r.Context(), account, filter)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, EntriesResponse{
		AccountID: account,
		Entries:   entries,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

func (s *Server) handleGetAccountHolds(w http.ResponseWriter, r *http.Request) {
	holds, err := s.ledger.GetAccountHolds(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, holds)
}

func (s *Server) handleCreateHold(w http.ResponseWriter, r *http.Request) {
	var req models.HoldRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ok, err := s.ledger.CreateHold(r.Context(), req)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	status := http.StatusCreated
	if !ok {
		status = http.StatusConflict // insufficient funds or duplicate order
	}
	respondJSON(w, status, HoldResult{OrderID: req.OrderID, OK: ok})
}

func (s *Server) handleGetHold(w http.ResponseWriter, r *http.Request) {
	order := mux.Vars(r)["order"]
	h, err := s.ledger.GetHold(r.Context(), order)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	if h == nil {
		respondError(w, http.StatusNotFound, ledger.ErrHoldNotFound.Error(), order)
		return
	}
	respondJSON(w, http.StatusOK, h)
}

func (s *Server) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	order := mux.Vars(r)["order"]
	ok, err := s.ledger.ReleaseHold(r.Context(), order)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, HoldResult{OrderID: order, OK: ok})
}

func (s *Server) handleConsumeHold(w http.ResponseWriter, r *http.Request) {
	order := mux.Vars(r)["order"]
	var req ConsumeRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	var (
		ok  bool
		err error
	)
	if req.Amount != nil {
		ok, err = s.ledger.ConsumePartialHold(r.Context(), order, *req.Amount)
	} else {
		ok, err = s.ledger.ConsumeHold(r.Context(), order)
	}
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	res := HoldResult{OrderID: order, OK: ok}
	if ok {
		if res.Hold, err = s.ledger.GetHold(r.Context(), order); err != nil {
			s.respondLedgerError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTransfer(w, r)
	if !ok {
		return
	}
	b, err := s.ledger.Deposit(r.Context(), req.AccountID, req.Asset, req.Amount, req.ReferenceID)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTransfer(w, r)
	if !ok {
		return
	}
	b, err := s.ledger.Withdraw(r.Context(), req.AccountID, req.Asset, req.Amount, req.ReferenceID)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleSettleTrade(w http.ResponseWriter, r *http.Request) {
	var in models.TradeSettlementInput
	if !decodeBody(w, r, &in) {
		return
	}
	res, err := s.ledger.SettleTrade(r.Context(), in)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadySettled {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// broadcastEvent pushes each ledger event to the "account:<id>" channel.
func (s *Server) broadcastEvent(evt events.LedgerEvent) error {
	channel := "account:" + evt.AccountID
	s.hub.BroadcastToChannel(channel, WSEvent{Type: "ledger_event", Channel: channel, Event: evt})
	return nil
}

// ==============================
// Helper Functions
// ==============================

func decodeTransfer(w http.ResponseWriter, r *http.Request) (TransferRequest, bool) {
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return req, false
	}
	if req.ReferenceID == "" {
		req.ReferenceID = r.Header.Get("Idempotency-Key")
	}
	return req, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func parseEntryFilter(r *http.Request) (models.EntryFilter, error) {
	q := r.URL.Query()
	f := models.EntryFilter{
		Asset: q.Get("asset"),
		Type:  models.EntryType(q.Get("type")),
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, errors.New("unknown entry type " + strconv.Quote(string(f.Type)))
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, errors.New("limit must be an integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			return f, errors.New("offset must be an integer")
		}
	}
	if f.StartTime, err = parseTime(q.Get("start")); err != nil {
		return f, err
	}
	if f.EndTime, err = parseTime(q.Get("end")); err != nil {
		return f, err
	}
	return ledger.NormalizeEntryFilter(f), nil
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New("times must be RFC3339")
	}
	return &t, nil
}

// respondLedgerError maps ledger sentinels to HTTP status codes.
func (s *Server) respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidSymbol),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrInvalidOrderID),
		errors.Is(err, ledger.ErrInvalidTradeID),
		errors.Is(err, ledger.ErrInvalidEntryType),
		errors.Is(err, ledger.ErrInvalidReference):
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		respondError(w, http.StatusUnprocessableEntity, "insufficient balance", err.Error())
	case errors.Is(err, ledger.ErrHoldMismatch):
		respondError(w, http.StatusConflict, "hold mismatch", err.Error())
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		respondError(w, http.StatusConflict, "idempotency conflict", err.Error())
	default:
		s.logger.Errorw("ledger_request_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
