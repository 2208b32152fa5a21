package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"tranchepool/core/events"
)

type stubBridge struct {
	calls int
	err   error
}

func (b *stubBridge) Transfer(_ context.Context, fromChain, toChain string, amount *big.Int) error {
	b.calls++
	return b.err
}

type stubAMM struct {
	calls int
	out   []*big.Int
	err   error
}

func (a *stubAMM) SwapExactInForOut(_ context.Context, amountIn, minOut *big.Int, path []string, recipient string, deadline time.Time) ([]*big.Int, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	if a.out != nil {
		return a.out, nil
	}
	return []*big.Int{new(big.Int).Set(amountIn), new(big.Int).Set(amountIn)}, nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func newTestGateway(bridge Bridge, amm AMM) (*Gateway, *capturingEmitter) {
	gw := NewGateway(bridge, amm)
	emitter := &capturingEmitter{}
	gw.SetEmitter(emitter)
	seq := 0
	gw.SetIDFunc(func() string {
		seq++
		return fmt.Sprintf("req-%d", seq)
	})
	gw.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return gw, emitter
}

func TestRequestTransferJournalsBeforeDispatch(t *testing.T) {
	bridge := &stubBridge{}
	gw, emitter := newTestGateway(bridge, &stubAMM{})

	id, err := gw.RequestTransfer(context.Background(), "tranchepool-1", "settlement-1", big.NewInt(250))
	if err != nil {
		t.Fatalf("request transfer: %v", err)
	}
	if id != "req-1" {
		t.Fatalf("unexpected id: %s", id)
	}
	if bridge.calls != 1 {
		t.Fatalf("expected one bridge dispatch, got %d", bridge.calls)
	}

	req, ok := gw.Get(id)
	if !ok {
		t.Fatalf("journal entry missing")
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", req.Status)
	}
	if len(gw.Pending()) != 1 {
		t.Fatalf("expected one pending request")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != TypeSettlementRequested {
		t.Fatalf("expected requested event, got %v", emitter.events)
	}
}

func TestRequestTransferValidation(t *testing.T) {
	gw, _ := newTestGateway(&stubBridge{}, &stubAMM{})

	if _, err := gw.RequestTransfer(context.Background(), "", "settlement-1", big.NewInt(1)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing from chain: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := gw.RequestTransfer(context.Background(), "a", "b", big.NewInt(0)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("zero amount: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := gw.RequestTransfer(context.Background(), "a", "b", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("nil amount: expected ErrInvalidRequest, got %v", err)
	}
	if len(gw.Requests()) != 0 {
		t.Fatalf("invalid requests must not be journalled")
	}
}

func TestRequestTransferDispatchFailureMarksEntry(t *testing.T) {
	bridge := &stubBridge{err: errors.New("bridge offline")}
	gw, emitter := newTestGateway(bridge, &stubAMM{})

	id, err := gw.RequestTransfer(context.Background(), "a", "b", big.NewInt(10))
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	req, ok := gw.Get(id)
	if !ok || req.Status != StatusFailed {
		t.Fatalf("expected failed journal entry, got %+v", req)
	}
	if req.Reason != "bridge offline" {
		t.Fatalf("unexpected failure reason: %q", req.Reason)
	}
	last := emitter.events[len(emitter.events)-1]
	if last.EventType() != TypeSettlementFailed {
		t.Fatalf("expected failed event, got %s", last.EventType())
	}
}

func TestRequestSwapReturnsQuote(t *testing.T) {
	amm := &stubAMM{out: []*big.Int{big.NewInt(100), big.NewInt(97)}}
	gw, _ := newTestGateway(&stubBridge{}, amm)

	id, amounts, err := gw.RequestSwap(context.Background(), big.NewInt(100), nil, []string{"TPU", "USDS"}, "tp1custody", time.Unix(1_700_000_060, 0))
	if err != nil {
		t.Fatalf("request swap: %v", err)
	}
	if id == "" || len(amounts) != 2 || amounts[1].Cmp(big.NewInt(97)) != 0 {
		t.Fatalf("unexpected quote: id=%s amounts=%v", id, amounts)
	}

	if _, _, err := gw.RequestSwap(context.Background(), big.NewInt(100), nil, []string{"TPU"}, "tp1custody", time.Time{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("short path: expected ErrInvalidRequest, got %v", err)
	}
}

func TestAcknowledgmentTransitions(t *testing.T) {
	gw, emitter := newTestGateway(&stubBridge{}, &stubAMM{})

	id, err := gw.RequestTransfer(context.Background(), "a", "b", big.NewInt(5))
	if err != nil {
		t.Fatalf("request transfer: %v", err)
	}

	if err := gw.Confirm("nope"); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("unknown id: expected ErrUnknownRequest, got %v", err)
	}
	if err := gw.Confirm(id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := gw.Confirm(id); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("double confirm: expected ErrAlreadyResolved, got %v", err)
	}
	if err := gw.Fail(id, "late"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("fail after confirm: expected ErrAlreadyResolved, got %v", err)
	}

	req, _ := gw.Get(id)
	if req.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", req.Status)
	}
	if len(gw.Pending()) != 0 {
		t.Fatalf("confirmed requests must leave the pending set")
	}
	last := emitter.events[len(emitter.events)-1]
	if last.EventType() != TypeSettlementConfirmed {
		t.Fatalf("expected confirmed event, got %s", last.EventType())
	}
}

func TestJournalCopiesAreIsolated(t *testing.T) {
	gw, _ := newTestGateway(&stubBridge{}, &stubAMM{})

	id, err := gw.RequestTransfer(context.Background(), "a", "b", big.NewInt(5))
	if err != nil {
		t.Fatalf("request transfer: %v", err)
	}
	req, _ := gw.Get(id)
	req.Amount.SetInt64(999)
	req.Status = StatusConfirmed

	fresh, _ := gw.Get(id)
	if fresh.Amount.Cmp(big.NewInt(5)) != 0 || fresh.Status != StatusPending {
		t.Fatalf("journal must hand out copies, got %+v", fresh)
	}
}
