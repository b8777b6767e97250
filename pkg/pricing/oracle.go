package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Oracle supplies the net asset value used to price a redemption window.
// The value is treated as authoritative and immutable once stamped.
type Oracle interface {
	NAVAt(ctx context.Context, tokenType string, at time.Time) (decimal.Decimal, error)
}

// StaticOracle returns a fixed NAV per token type; used in development and tests
type StaticOracle struct {
	values map[string]decimal.Decimal
	def    decimal.Decimal
}

func NewStaticOracle(def decimal.Decimal) *StaticOracle {
	return &StaticOracle{
		values: make(map[string]decimal.Decimal),
		def:    def,
	}
}

func (o *StaticOracle) Set(tokenType string, nav decimal.Decimal) {
	o.values[tokenType] = nav
}

func (o *StaticOracle) NAVAt(ctx context.Context, tokenType string, at time.Time) (decimal.Decimal, error) {
	if nav, ok := o.values[tokenType]; ok {
		return nav, nil
	}
	return o.def, nil
}

// ManualOracle holds operator-published NAV marks, newest wins
type ManualOracle struct {
	mu    sync.RWMutex
	marks map[string][]mark
}

type mark struct {
	nav decimal.Decimal
	at  time.Time
}

func NewManualOracle() *ManualOracle {
	return &ManualOracle{marks: make(map[string][]mark)}
}

// Publish records a NAV mark for a token type effective at the given time
func (o *ManualOracle) Publish(tokenType string, nav decimal.Decimal, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.marks[tokenType] = append(o.marks[tokenType], mark{nav: nav, at: at})
}

// NAVAt returns the latest mark at or before the requested time
func (o *ManualOracle) NAVAt(ctx context.Context, tokenType string, at time.Time) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var best *mark
	for i := range o.marks[tokenType] {
		m := &o.marks[tokenType][i]
		if m.at.After(at) {
			continue
		}
		if best == nil || m.at.After(best.at) {
			best = m
		}
	}
	if best == nil {
		return decimal.Zero, ErrNoMark
	}
	return best.nav, nil
}

// ErrNoMark is returned when no NAV mark covers the requested time
var ErrNoMark = errNoMark{}

type errNoMark struct{}

func (errNoMark) Error() string { return "no NAV mark available for requested time" }
