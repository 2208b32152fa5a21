package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tranchepool/crypto"
	nativecommon "tranchepool/native/common"
	"tranchepool/native/settlement"
	"tranchepool/native/tranche"
)

// Server exposes the tranche engine and the settlement journal over HTTP.
type Server struct {
	engine  *tranche.Engine
	gateway *settlement.Gateway
	logger  *slog.Logger
	metrics *Metrics
	router  http.Handler
}

func newServer(engine *tranche.Engine, gateway *settlement.Gateway, logger *slog.Logger, metrics *Metrics, limiter *rateLimiter) *Server {
	s := &Server{
		engine:  engine,
		gateway: gateway,
		logger:  logger,
		metrics: metrics,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if limiter != nil {
		r.Use(limiter.middleware)
	}

	r.Get("/healthz", s.handleHealthz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/pools", func(r chi.Router) {
		r.Post("/", s.handleCreatePool)
		r.Get("/", s.handleListPools)
		r.Get("/{id}", s.handleGetPool)
		r.Post("/{key}/fund", s.handleFund)
		r.Post("/{key}/redeem", s.handleRedeemJunior)
		r.Post("/{key}/mint-share", s.handleMintRiskShare)
	})
	r.Route("/senior", func(r chi.Router) {
		r.Post("/provide", s.handleProvide)
		r.Post("/convert", s.handleConvert)
		r.Post("/swap", s.handleSwapSenior)
		r.Post("/redeem", s.handleRedeemSenior)
	})
	r.Post("/rebalance", s.handleRebalance)
	r.Route("/settlements", func(r chi.Router) {
		r.Get("/", s.handleListSettlements)
		r.Post("/{id}/confirm", s.handleConfirmSettlement)
		r.Post("/{id}/fail", s.handleFailSettlement)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// --- Wire types ---

type poolResponse struct {
	ID                uint64 `json:"id"`
	TrancheKey        string `json:"trancheKey"`
	PrincipalAmount   string `json:"principalAmount"`
	InterestRate      string `json:"interestRate"`
	DueDate           uint64 `json:"dueDate"`
	RepaymentSchedule uint64 `json:"repaymentSchedule"`
	IsActive          bool   `json:"isActive"`
}

func newPoolResponse(pool *tranche.LendingPool) poolResponse {
	return poolResponse{
		ID:                pool.ID,
		TrancheKey:        pool.TrancheKey,
		PrincipalAmount:   pool.PrincipalAmount.String(),
		InterestRate:      pool.InterestRate.String(),
		DueDate:           pool.DueDate,
		RepaymentSchedule: pool.RepaymentSchedule,
		IsActive:          pool.IsActive,
	}
}

type createPoolRequest struct {
	Caller            string `json:"caller"`
	TrancheKey        string `json:"trancheKey"`
	PrincipalAmount   string `json:"principalAmount"`
	InterestRate      string `json:"interestRate"`
	DueDate           uint64 `json:"dueDate"`
	RepaymentSchedule uint64 `json:"repaymentSchedule"`
}

type amountRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type convertRequest struct {
	Caller     string `json:"caller"`
	TrancheKey string `json:"trancheKey"`
	Amount     string `json:"amount"`
}

type swapRequest struct {
	Caller    string `json:"caller"`
	FromChain string `json:"fromChain"`
	ToChain   string `json:"toChain"`
	Amount    string `json:"amount"`
}

type rebalanceRequest struct {
	TargetChain string `json:"targetChain"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

type settlementResponse struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	FromChain  string   `json:"fromChain,omitempty"`
	ToChain    string   `json:"toChain,omitempty"`
	Amount     string   `json:"amount"`
	Path       []string `json:"path,omitempty"`
	Recipient  string   `json:"recipient,omitempty"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	CreatedAt  string   `json:"createdAt"`
	ResolvedAt string   `json:"resolvedAt,omitempty"`
}

func newSettlementResponse(req *settlement.Request) settlementResponse {
	resp := settlementResponse{
		ID:        req.ID,
		Kind:      string(req.Kind),
		FromChain: req.FromChain,
		ToChain:   req.ToChain,
		Amount:    req.Amount.String(),
		Path:      req.Path,
		Recipient: req.Recipient,
		Status:    string(req.Status),
		Reason:    req.Reason,
		CreatedAt: req.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !req.ResolvedAt.IsZero() {
		resp.ResolvedAt = req.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// --- Handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	principal, err := parseAmount(req.PrincipalAmount, "principalAmount")
	if err != nil {
		writeError(w, err)
		return
	}
	rate, err := parseAmount(req.InterestRate, "interestRate")
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.CreatePool(caller, req.TrancheKey, principal, rate, req.DueDate, req.RepaymentSchedule)
	s.metrics.ObserveOperation("create_pool", err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("pool created", "poolId", pool.ID, "trancheKey", pool.TrancheKey)
	writeJSON(w, http.StatusCreated, newPoolResponse(pool))
}

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request) {
	pools, err := s.engine.ListActivePools()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]poolResponse, 0, len(pools))
	for _, pool := range pools {
		out = append(out, newPoolResponse(pool))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: pool id must be an integer", tranche.ErrInvalidInput))
		return
	}
	pool, err := s.engine.GetPool(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(pool))
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	caller, amount, err := decodeAmountRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.engine.Fund(caller, chi.URLParam(r, "key"), amount)
	s.metrics.ObserveOperation("fund_junior", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

func (s *Server) handleRedeemJunior(w http.ResponseWriter, r *http.Request) {
	caller, amount, err := decodeAmountRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.engine.Redeem(caller, chi.URLParam(r, "key"), amount)
	s.metrics.ObserveOperation("redeem_junior", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
}

func (s *Server) handleMintRiskShare(w http.ResponseWriter, r *http.Request) {
	caller, amount, err := decodeAmountRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	share, err := s.engine.MintRiskShare(r.Context(), caller, chi.URLParam(r, "key"), amount)
	s.metrics.ObserveOperation("mint_risk_share", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"share": share.String()})
}

func (s *Server) handleProvide(w http.ResponseWriter, r *http.Request) {
	caller, amount, err := decodeAmountRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.engine.ProvideLiquidity(r.Context(), caller, amount)
	s.metrics.ObserveOperation("provide_liquidity", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "provided"})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, err)
		return
	}
	shared, err := s.engine.ConvertToSeniorToken(r.Context(), caller, req.TrancheKey, amount)
	s.metrics.ObserveOperation("convert_senior", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sharedTokenAmount": shared.String()})
}

func (s *Server) handleSwapSenior(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.engine.SwapSeniorToken(r.Context(), caller, req.FromChain, req.ToChain, amount)
	s.metrics.ObserveOperation("swap_senior", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "swapped"})
}

func (s *Server) handleRedeemSenior(w http.ResponseWriter, r *http.Request) {
	caller, amount, err := decodeAmountRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.engine.RedeemSenior(caller, amount)
	s.metrics.ObserveOperation("redeem_senior", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.engine.Rebalance(r.Context(), req.TargetChain)
	s.metrics.ObserveOperation("rebalance", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebalanced"})
}

func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	var requests []*settlement.Request
	if strings.EqualFold(r.URL.Query().Get("status"), string(settlement.StatusPending)) {
		requests = s.gateway.Pending()
	} else {
		requests = s.gateway.Requests()
	}
	out := make([]settlementResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, newSettlementResponse(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfirmSettlement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.gateway.Confirm(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Settlement.WithLabelValues("confirmed").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleFailSettlement(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.gateway.Fail(id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Settlement.WithLabelValues("failed").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

// --- Helpers ---

var errEmptyBody = errors.New("empty request body")

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("%w: malformed request body: %v", tranche.ErrInvalidInput, err)
	}
	return nil
}

func decodeAmountRequest(r *http.Request) (crypto.Address, *big.Int, error) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		return crypto.Address{}, nil, err
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		return crypto.Address{}, nil, err
	}
	return caller, amount, nil
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: caller: %v", tranche.ErrInvalidInput, err)
	}
	return addr, nil
}

func parseAmount(raw, field string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a base-10 integer", tranche.ErrInvalidInput, field)
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, tranche.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, tranche.ErrNotFound), errors.Is(err, settlement.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, tranche.ErrAlreadyInitialized),
		errors.Is(err, tranche.ErrAlreadyFunded),
		errors.Is(err, settlement.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, tranche.ErrInsufficientBalance), errors.Is(err, tranche.ErrArithmeticUnderflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tranche.ErrOracleInvalid),
		errors.Is(err, tranche.ErrSettlementFailure),
		errors.Is(err, settlement.ErrDispatchFailed):
		return http.StatusBadGateway
	case errors.Is(err, tranche.ErrInvalidInput),
		errors.Is(err, settlement.ErrInvalidRequest),
		errors.Is(err, errEmptyBody):
		return http.StatusBadRequest
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
