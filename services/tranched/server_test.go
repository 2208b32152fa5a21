package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tranchepool/crypto"
	"tranchepool/native/oracle"
	"tranchepool/native/settlement"
	"tranchepool/native/tranche"
	"tranchepool/storage"
	"tranchepool/storage/statestore"
)

type acceptBridge struct{}

func (acceptBridge) Transfer(_ context.Context, _, _ string, _ *big.Int) error { return nil }

type acceptAMM struct{}

func (acceptAMM) SwapExactInForOut(_ context.Context, amountIn, _ *big.Int, _ []string, _ string, _ time.Time) ([]*big.Int, error) {
	return []*big.Int{new(big.Int).Set(amountIn)}, nil
}

type fixedFeed struct {
	price *big.Int
}

func (f fixedFeed) LatestPrice() (*big.Int, time.Time, error) {
	return new(big.Int).Set(f.price), time.Now(), nil
}

type serverFixture struct {
	server   *Server
	token    *memLedger
	borrower crypto.Address
	backer   crypto.Address
	provider crypto.Address
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	addr := func(suffix byte) crypto.Address {
		raw := make([]byte, 20)
		raw[len(raw)-1] = suffix
		return crypto.NewAddress(crypto.TPPrefix, raw)
	}
	f := &serverFixture{
		token:    newMemLedger(),
		borrower: addr(0x02),
		backer:   addr(0x03),
		provider: addr(0x04),
	}
	gateway := settlement.NewGateway(acceptBridge{}, acceptAMM{})
	engine := tranche.NewEngine(addr(0x01), tranche.DefaultConfig())
	engine.SetState(statestore.New(storage.NewMemDB()))
	engine.SetOracle(oracle.NewAdapter(fixedFeed{price: big.NewInt(2)}, time.Minute))
	engine.SetGateway(gateway)
	engine.SetTokenLedgers(f.token, newMemLedger())
	require.NoError(t, engine.BindBorrower(f.borrower))
	require.NoError(t, engine.BindBacker(f.backer))
	require.NoError(t, engine.BindLiquidityProvider(f.provider))

	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	f.server = newServer(engine, gateway, logger, NewMetrics(), nil)
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) createPool(t *testing.T, key string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/pools", createPoolRequest{
		Caller:            f.borrower.String(),
		TrancheKey:        key,
		PrincipalAmount:   "1000",
		InterestRate:      "10",
		DueDate:           100,
		RepaymentSchedule: 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetPool(t *testing.T) {
	f := newServerFixture(t)
	f.createPool(t, "pool-1")

	rec := f.do(t, http.MethodGet, "/pools/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pool poolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pool))
	require.Equal(t, "pool-1", pool.TrancheKey)
	require.Equal(t, "1000", pool.PrincipalAmount)
	require.True(t, pool.IsActive)

	rec = f.do(t, http.MethodGet, "/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pools []poolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pools))
	require.Len(t, pools, 1)

	rec = f.do(t, http.MethodGet, "/pools/99", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	f := newServerFixture(t)
	f.createPool(t, "pool-1")

	// Wrong role.
	rec := f.do(t, http.MethodPost, "/pools", createPoolRequest{
		Caller:          f.backer.String(),
		TrancheKey:      "pool-2",
		PrincipalAmount: "1000",
		InterestRate:    "10",
		DueDate:         100, RepaymentSchedule: 30,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Malformed amount.
	rec = f.do(t, http.MethodPost, "/pools/pool-1/fund", amountRequest{Caller: f.backer.String(), Amount: "abc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Double funding.
	rec = f.do(t, http.MethodPost, "/pools/pool-1/fund", amountRequest{Caller: f.backer.String(), Amount: "500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/pools/pool-1/fund", amountRequest{Caller: f.backer.String(), Amount: "100"})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Over-redemption.
	rec = f.do(t, http.MethodPost, "/pools/pool-1/redeem", amountRequest{Caller: f.backer.String(), Amount: "600"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMintShareAndSettlementAcknowledgment(t *testing.T) {
	f := newServerFixture(t)
	f.createPool(t, "pool-1")
	rec := f.do(t, http.MethodPost, "/pools/pool-1/fund", amountRequest{Caller: f.backer.String(), Amount: "500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f.token.seed(f.backer, big.NewInt(1000))

	rec = f.do(t, http.MethodPost, "/pools/pool-1/mint-share", amountRequest{Caller: f.backer.String(), Amount: "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var mint map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mint))
	// 100 * 1e18 * 2 / (500 * 10)
	expected := new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	expected.Mul(expected, big.NewInt(2))
	expected.Quo(expected, big.NewInt(5000))
	require.Equal(t, expected.String(), mint["share"])

	rec = f.do(t, http.MethodGet, "/settlements?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []settlementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	require.Equal(t, "pending", pending[0].Status)

	id := pending[0].ID
	rec = f.do(t, http.MethodPost, "/settlements/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/settlements/"+id+"/confirm", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, "/settlements/unknown/confirm", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSeniorFlowOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	f.createPool(t, "pool-1")
	f.token.seed(f.provider, big.NewInt(2000))

	rec := f.do(t, http.MethodPost, "/senior/provide", amountRequest{Caller: f.provider.String(), Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/senior/convert", convertRequest{
		Caller:     f.provider.String(),
		TrancheKey: "pool-1",
		Amount:     "400",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var convert map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convert))
	require.NotEmpty(t, convert["sharedTokenAmount"])

	rec = f.do(t, http.MethodPost, "/senior/redeem", amountRequest{Caller: f.provider.String(), Amount: "200"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/rebalance", rebalanceRequest{TargetChain: "remote"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
