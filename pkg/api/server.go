package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/lendbook/lendbook/pkg/book"
)

// Server exposes the book over REST and WebSocket. Actions carry the caller
// address in the request body; this is a devnet surface with no signatures.
type Server struct {
	book   *book.Book
	vault  *book.Vault
	feed   *book.StaticFeed
	router *mux.Router
	hub    *Hub
}

// NewServer wires the book, its vault, and the settable price feed into an
// HTTP router. The returned server's Hub should be passed to the book as
// its event sink.
func NewServer(b *book.Book, vault *book.Vault, feed *book.StaticFeed) *Server {
	s := &Server{
		book:   b,
		vault:  vault,
		feed:   feed,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub (a book.EventSink).
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Maker actions
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders/price", s.handleChangeLimitPrice).Methods("POST")
	api.HandleFunc("/orders/paired-price", s.handleChangePairedPrice).Methods("POST")
	api.HandleFunc("/orders/borrowable", s.handleSetBorrowable).Methods("POST")

	// Borrower actions
	api.HandleFunc("/borrow", s.handleBorrow).Methods("POST")
	api.HandleFunc("/repay", s.handleRepay).Methods("POST")

	// Taker / keeper actions
	api.HandleFunc("/take", s.handleTake).Methods("POST")
	api.HandleFunc("/liquidate", s.handleLiquidate).Methods("POST")

	// Views
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/positions/{id:[0-9]+}", s.handleGetPosition).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/rates", s.handleGetRates).Methods("GET")

	// Devnet oracle and faucet
	api.HandleFunc("/oracle/price", s.handleGetPrice).Methods("GET")
	api.HandleFunc("/oracle/price", s.handleSetPrice).Methods("POST")
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	// Debug
	api.HandleFunc("/debug/invariants", s.handleInvariants).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// Action Handlers
// ==============================

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	maker, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	qty, err := parseAmount(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	paired, err := parseOptionalAmount(req.PairedPrice)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid paired price", err.Error())
		return
	}

	id, err := s.book.Deposit(maker, book.DepositArgs{
		Quantity:    qty,
		Price:       price,
		PairedPrice: paired,
		Side:        side,
		Borrowable:  req.Borrowable,
	})
	if err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, DepositResponse{OrderID: uint64(id)})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	maker, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	qty, err := parseAmount(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	if err := s.book.Withdraw(maker, book.OrderID(req.OrderID), qty); err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleChangeLimitPrice(w http.ResponseWriter, r *http.Request) {
	var req ChangePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	maker, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	if err := s.book.ChangeLimitPrice(maker, book.OrderID(req.OrderID), price); err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleChangePairedPrice(w http.ResponseWriter, r *http.Request) {
	var req ChangePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	maker, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	if err := s.book.ChangePairedPrice(maker, book.OrderID(req.OrderID), price); err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSetBorrowable(w http.ResponseWriter, r *http.Request) {
	var req SetBorrowableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	maker, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	if err := s.book.SetBorrowable(maker, book.OrderID(req.OrderID), req.Borrowable); err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	borrower, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	qty, err := parseAmount(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	pid, err := s.book.Borrow(borrower, book.OrderID(req.OrderID), qty)
	if err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, BorrowResponse{PositionID: uint64(pid)})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req RepayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	borrower, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	qty, err := parseAmount(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	if err := s.book.Repay(borrower, book.PositionID(req.PositionID), qty); err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleTake(w http.ResponseWriter, r *http.Request) {
	var req TakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	taker, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	qty, err := parseAmount(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	receipt, err := s.book.Take(taker, book.OrderID(req.OrderID), qty)
	if err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, takeResponse(receipt))
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	receipt, err := s.book.Liquidate(caller, book.PositionID(req.PositionID))
	if err != nil {
		respondBookError(w, err)
		return
	}
	resp := LiquidateResponse{PositionID: req.PositionID}
	if receipt.Take != nil {
		resp.ViaTake = true
		tr := takeResponse(receipt.Take)
		resp.Take = &tr
	} else {
		resp.Debt = dec(receipt.Debt)
		resp.Fee = dec(receipt.Fee)
		resp.Seized = dec(receipt.Seized)
	}
	respondJSON(w, resp)
}

// ==============================
// View Handlers
// ==============================

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := s.book.GetOrder(book.OrderID(id))
	if err != nil {
		respondBookError(w, err)
		return
	}
	lent, err := s.book.AssetsLentByOrder(o.ID)
	if err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, OrderInfo{
		ID:          uint64(o.ID),
		Maker:       o.Maker.Hex(),
		Side:        o.Side.String(),
		Quantity:    dec(o.Quantity),
		Price:       dec(o.Price),
		PairedPrice: dec(o.PairedPrice),
		Borrowable:  o.Borrowable,
		Lent:        dec(lent),
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.book.GetPosition(book.PositionID(id))
	if err != nil {
		respondBookError(w, err)
		return
	}
	respondJSON(w, PositionInfo{
		ID:       uint64(p.ID),
		Borrower: p.Borrower.Hex(),
		OrderID:  uint64(p.OrderID),
		Borrowed: dec(p.Borrowed),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	info := AccountInfo{Address: addr.Hex()}
	for _, side := range [2]book.Side{book.Buy, book.Sell} {
		si := AccountSideInfo{
			VaultBalance:     dec(s.vault.BalanceOf(side, addr)),
			TotalDeposit:     dec(s.book.UserTotalDeposit(addr, side)),
			TotalBorrow:      dec(s.book.UserTotalBorrow(addr, side)),
			NeededCollateral: dec(s.book.NeededCollateral(addr, side)),
			ExcessCollateral: dec(s.book.ExcessCollateral(addr, side)),
		}
		if side == book.Buy {
			info.Quote = si
		} else {
			info.Base = si
		}
	}
	respondJSON(w, info)
}

func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	out := make([]RatesInfo, 0, 2)
	for _, side := range [2]book.Side{book.Buy, book.Sell} {
		out = append(out, RatesInfo{
			Side:             side.String(),
			Utilization:      dec(s.book.UtilizationRate(side)),
			AnnualRate:       dec(s.book.AnnualRate(side)),
			InstantRate:      dec(s.book.InstantRate(side)),
			TimeWeightedRate: dec(s.book.TimeWeightedRate(side)),
			TotalAssets:      dec(s.book.TotalAssets(side)),
			TotalBorrow:      dec(s.book.TotalBorrow(side)),
		})
	}
	respondJSON(w, out)
}

// ==============================
// Devnet Handlers
// ==============================

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"price": dec(s.feed.Price())})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil || price.IsZero() {
		respondError(w, http.StatusBadRequest, "invalid price", req.Price)
		return
	}
	s.feed.Set(price)
	log.Printf("[api] oracle price set to %s", price.Dec())
	respondJSON(w, map[string]string{"price": price.Dec()})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	to, ok := parseAddress(w, req.To)
	if !ok {
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	s.vault.Mint(side, to, amount)
	respondJSON(w, map[string]string{
		"status":  "minted",
		"balance": s.vault.BalanceOf(side, to).Dec(),
	})
}

func (s *Server) handleInvariants(w http.ResponseWriter, r *http.Request) {
	if err := s.book.CheckInvariants(); err != nil {
		respondJSON(w, map[string]string{"status": "broken", "error": err.Error()})
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func takeResponse(t *book.TakeReceipt) TakeResponse {
	return TakeResponse{
		OrderID:       uint64(t.OrderID),
		Quantity:      dec(t.Quantity),
		Exchanged:     dec(t.Exchanged),
		WrittenOff:    dec(t.WrittenOff),
		Seized:        dec(t.Seized),
		SelfRepaid:    dec(t.SelfRepaid),
		MakerProceeds: dec(t.MakerProceeds),
	}
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", raw)
		return 0, false
	}
	return id, true
}

// respondBookError maps the book's error taxonomy onto HTTP status codes.
func respondBookError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, book.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, book.ErrCapacityExceeded):
		status = http.StatusConflict
	case errors.Is(err, book.ErrInsufficientCollateral):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, book.ErrStateViolation):
		status = http.StatusConflict
	}
	respondError(w, status, "action rejected", err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Details: details})
}
