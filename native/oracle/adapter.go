package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrInvalidPrice marks a feed reading that is nil, zero or negative.
	ErrInvalidPrice = errors.New("oracle: non-positive price")
	// ErrStaleQuote marks a feed reading older than the freshness window.
	ErrStaleQuote = errors.New("oracle: quote outside freshness window")

	errNilFeed = errors.New("oracle: feed not configured")
)

// PriceFeed resolves the latest price from an external source together with
// the timestamp reported by that source.
type PriceFeed interface {
	LatestPrice() (*big.Int, time.Time, error)
}

// Adapter wraps a PriceFeed and validates every reading before handing it to
// the ledger: the price must be strictly positive and, when a freshness
// window is configured, no older than that window.
type Adapter struct {
	feed   PriceFeed
	maxAge time.Duration
	nowFn  func() time.Time
}

// NewAdapter constructs an adapter over the provided feed. A zero maxAge
// disables the staleness check.
func NewAdapter(feed PriceFeed, maxAge time.Duration) *Adapter {
	return &Adapter{
		feed:   feed,
		maxAge: maxAge,
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the wall clock used for staleness checks. Primarily
// leveraged in tests to provide deterministic timestamps.
func (a *Adapter) SetNowFunc(now func() time.Time) {
	if a == nil {
		return
	}
	if now == nil {
		a.nowFn = time.Now
		return
	}
	a.nowFn = now
}

// SetMaxAge updates the freshness window applied to feed readings.
func (a *Adapter) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.maxAge = maxAge
}

// CurrentPrice returns the latest validated price. It is a pure read with no
// side effects.
func (a *Adapter) CurrentPrice() (*big.Int, error) {
	if a == nil || a.feed == nil {
		return nil, errNilFeed
	}
	price, reported, err := a.feed.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("oracle: read feed: %w", err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if a.maxAge > 0 {
		age := a.nowFn().Sub(reported)
		if age > a.maxAge {
			return nil, fmt.Errorf("%w: reported %s ago", ErrStaleQuote, age)
		}
	}
	return new(big.Int).Set(price), nil
}
