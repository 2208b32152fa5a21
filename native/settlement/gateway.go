package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tranchepool/core/events"
	"tranchepool/core/types"
)

var (
	// ErrInvalidRequest marks a request with a missing chain reference, an
	// empty path or a non-positive amount.
	ErrInvalidRequest = errors.New("settlement gateway: invalid request")
	// ErrDispatchFailed marks a request that was journalled but could not be
	// handed to the external capability.
	ErrDispatchFailed = errors.New("settlement gateway: dispatch failed")
	// ErrUnknownRequest marks an acknowledgment for an id the journal has
	// never seen.
	ErrUnknownRequest = errors.New("settlement gateway: unknown request")
	// ErrAlreadyResolved marks a second acknowledgment against a request.
	ErrAlreadyResolved = errors.New("settlement gateway: request already resolved")

	errNilBridge = errors.New("settlement gateway: bridge not configured")
	errNilAMM    = errors.New("settlement gateway: amm not configured")
)

// Bridge is the external cross-chain transfer capability. The call is
// fire-and-forget: a nil error only means the request was accepted.
type Bridge interface {
	Transfer(ctx context.Context, fromChain, toChain string, amount *big.Int) error
}

// AMM is the external swap capability. The returned amounts are the quote at
// call time, with no guarantee of execution price.
type AMM interface {
	SwapExactInForOut(ctx context.Context, amountIn, minOut *big.Int, path []string, recipient string, deadline time.Time) ([]*big.Int, error)
}

// RequestKind distinguishes journal entries.
type RequestKind string

const (
	KindTransfer RequestKind = "transfer"
	KindSwap     RequestKind = "swap"
)

// RequestStatus tracks the two-phase settlement protocol: every request
// starts Pending and is resolved by an explicit Confirm or Fail
// acknowledgment once the external leg is known to have completed or not.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusConfirmed RequestStatus = "confirmed"
	StatusFailed    RequestStatus = "failed"
)

// Request is a journalled settlement instruction.
type Request struct {
	ID         string
	Kind       RequestKind
	FromChain  string
	ToChain    string
	Amount     *big.Int
	Path       []string
	Recipient  string
	Deadline   time.Time
	Status     RequestStatus
	Reason     string
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	if r.Path != nil {
		clone.Path = append([]string(nil), r.Path...)
	}
	return &clone
}

// Gateway journals outbound settlement instructions and dispatches them to
// the external bridge and AMM capabilities. Local callers always observe the
// journal entry before any external system observes the request.
type Gateway struct {
	mu      sync.Mutex
	bridge  Bridge
	amm     AMM
	journal map[string]*Request
	order   []string
	emitter events.Emitter
	nowFn   func() time.Time
	idFn    func() string
}

// NewGateway constructs a gateway over the provided capabilities.
func NewGateway(bridge Bridge, amm AMM) *Gateway {
	return &Gateway{
		bridge:  bridge,
		amm:     amm,
		journal: make(map[string]*Request),
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
		idFn:    uuid.NewString,
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (g *Gateway) SetEmitter(emitter events.Emitter) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if emitter == nil {
		g.emitter = events.NoopEmitter{}
		return
	}
	g.emitter = emitter
}

// SetNowFunc overrides the wall clock, primarily for deterministic tests.
func (g *Gateway) SetNowFunc(now func() time.Time) {
	if g == nil || now == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nowFn = now
}

// SetIDFunc overrides request id generation, primarily for deterministic
// tests.
func (g *Gateway) SetIDFunc(id func() string) {
	if g == nil || id == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idFn = id
}

// RequestTransfer journals a cross-chain transfer and dispatches it to the
// bridge. The journal entry is written before dispatch; a dispatch error
// marks the entry failed and returns ErrDispatchFailed together with the id
// so callers can reconcile.
func (g *Gateway) RequestTransfer(ctx context.Context, fromChain, toChain string, amount *big.Int) (string, error) {
	if g == nil || g.bridge == nil {
		return "", errNilBridge
	}
	fromChain = strings.TrimSpace(fromChain)
	toChain = strings.TrimSpace(toChain)
	if fromChain == "" || toChain == "" {
		return "", fmt.Errorf("%w: chain reference required", ErrInvalidRequest)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	req := g.journalRequest(&Request{
		Kind:      KindTransfer,
		FromChain: fromChain,
		ToChain:   toChain,
		Amount:    new(big.Int).Set(amount),
	})

	if err := g.bridge.Transfer(ctx, fromChain, toChain, amount); err != nil {
		g.resolve(req.ID, StatusFailed, err.Error())
		return req.ID, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	return req.ID, nil
}

// RequestSwap journals an AMM swap of amountIn along path and dispatches it.
// The returned amounts are the quote at call time.
func (g *Gateway) RequestSwap(ctx context.Context, amountIn, minOut *big.Int, path []string, recipient string, deadline time.Time) (string, []*big.Int, error) {
	if g == nil || g.amm == nil {
		return "", nil, errNilAMM
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return "", nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if len(path) < 2 {
		return "", nil, fmt.Errorf("%w: swap path needs at least two assets", ErrInvalidRequest)
	}
	if minOut == nil {
		minOut = big.NewInt(0)
	}

	req := g.journalRequest(&Request{
		Kind:      KindSwap,
		Amount:    new(big.Int).Set(amountIn),
		Path:      append([]string(nil), path...),
		Recipient: recipient,
		Deadline:  deadline,
	})

	amounts, err := g.amm.SwapExactInForOut(ctx, amountIn, minOut, path, recipient, deadline)
	if err != nil {
		g.resolve(req.ID, StatusFailed, err.Error())
		return req.ID, nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	return req.ID, amounts, nil
}

// Confirm acknowledges that the external leg of a request completed.
func (g *Gateway) Confirm(id string) error {
	return g.resolve(id, StatusConfirmed, "")
}

// Fail acknowledges that the external leg of a request will never complete.
func (g *Gateway) Fail(id, reason string) error {
	return g.resolve(id, StatusFailed, reason)
}

// Get returns a copy of the journal entry for id.
func (g *Gateway) Get(id string) (*Request, bool) {
	if g == nil {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.journal[id]
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// Pending lists unresolved journal entries in issue order. It returns a fresh
// snapshot each call.
func (g *Gateway) Pending() []*Request {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Request, 0, len(g.order))
	for _, id := range g.order {
		if req := g.journal[id]; req != nil && req.Status == StatusPending {
			out = append(out, req.Clone())
		}
	}
	return out
}

// Requests lists every journal entry in issue order.
func (g *Gateway) Requests() []*Request {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Request, 0, len(g.order))
	for _, id := range g.order {
		if req := g.journal[id]; req != nil {
			out = append(out, req.Clone())
		}
	}
	return out
}

func (g *Gateway) journalRequest(req *Request) *Request {
	g.mu.Lock()
	req.ID = g.idFn()
	req.Status = StatusPending
	req.CreatedAt = g.nowFn()
	g.journal[req.ID] = req
	g.order = append(g.order, req.ID)
	emitter := g.emitter
	snapshot := req.Clone()
	g.mu.Unlock()

	emitter.Emit(requestEvent{typ: TypeSettlementRequested, req: snapshot})
	return snapshot
}

func (g *Gateway) resolve(id string, status RequestStatus, reason string) error {
	if g == nil {
		return ErrUnknownRequest
	}
	g.mu.Lock()
	req, ok := g.journal[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if req.Status != StatusPending {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, req.Status)
	}
	req.Status = status
	req.Reason = reason
	req.ResolvedAt = g.nowFn()
	emitter := g.emitter
	snapshot := req.Clone()
	g.mu.Unlock()

	typ := TypeSettlementConfirmed
	if status == StatusFailed {
		typ = TypeSettlementFailed
	}
	emitter.Emit(requestEvent{typ: typ, req: snapshot})
	return nil
}

const (
	TypeSettlementRequested = "settlement.requested"
	TypeSettlementConfirmed = "settlement.confirmed"
	TypeSettlementFailed    = "settlement.failed"
)

type requestEvent struct {
	typ string
	req *Request
}

func (e requestEvent) EventType() string { return e.typ }

// Event converts the journal entry into a broadcastable event payload.
func (e requestEvent) Event() *types.Event {
	attrs := make(map[string]string)
	if e.req != nil {
		attrs["id"] = e.req.ID
		attrs["kind"] = string(e.req.Kind)
		attrs["status"] = string(e.req.Status)
		if e.req.Amount != nil {
			attrs["amount"] = e.req.Amount.String()
		}
		if e.req.FromChain != "" {
			attrs["fromChain"] = e.req.FromChain
		}
		if e.req.ToChain != "" {
			attrs["toChain"] = e.req.ToChain
		}
		if e.req.Reason != "" {
			attrs["reason"] = e.req.Reason
		}
	}
	return &types.Event{Type: e.typ, Attributes: attrs}
}
