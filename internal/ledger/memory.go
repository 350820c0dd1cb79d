package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/vendly/promo-engine/internal/domain/instrument"
	"github.com/vendly/promo-engine/internal/domain/stacking"
)

// counters is the mutable usage state for one instrument: an explicit
// arena-style cell instead of a counter buried in a model object, so the
// limit invariant lives in exactly one place.
type counters struct {
	total    int // 0 = unlimited
	perUser  int // 0 = unlimited
	redeemed int
}

// Memory is an in-process Ledger and UsageReader. A single mutex serializes
// commits, which keeps the no-over-redemption invariant trivially true; it
// is intended for tests and single-node staging, not horizontal scale.
type Memory struct {
	mu       sync.Mutex
	state    map[string]*counters
	byOrder  map[string][]Record
	released map[string]bool
	now      func() time.Time
}

var (
	_ Ledger      = (*Memory)(nil)
	_ UsageReader = (*Memory)(nil)
)

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		state:    make(map[string]*counters),
		byOrder:  make(map[string][]Record),
		released: make(map[string]bool),
		now:      time.Now,
	}
}

// Register makes an instrument's limits known to the ledger. Committing an
// unregistered instrument is an error: the ledger refuses to guess limits.
func (m *Memory) Register(inst instrument.Instrument) {
	limits := inst.UsageLimits()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[inst.InstrumentID()] = &counters{
		total:    limits.Total,
		perUser:  limits.PerUser,
		redeemed: limits.Redeemed,
	}
}

// Redeemed returns the current committed count for an instrument.
func (m *Memory) Redeemed(instrumentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.state[instrumentID]; ok {
		return c.redeemed
	}
	return 0
}

// Commit validates every applied instrument's limits and then applies all
// increments and record appends under one lock hold, so concurrent commits
// racing for the last slot serialize and exactly the limited number succeed.
func (m *Memory) Commit(_ context.Context, decision *stacking.Decision, shopperID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Retry of an order that already landed, including one that was since
	// released. Success without consuming another slot.
	if _, ok := m.byOrder[orderID]; ok {
		return nil
	}

	// Validate first: either the whole decision commits or none of it.
	for _, a := range decision.Applied {
		c, ok := m.state[a.InstrumentID]
		if !ok {
			return errors.Errorf("instrument %s not registered in ledger", a.InstrumentID)
		}
		if c.total > 0 && c.redeemed >= c.total {
			return &ConflictError{InstrumentID: a.InstrumentID, Reason: "GLOBAL_LIMIT_REACHED"}
		}
		if c.perUser > 0 && m.usesLocked(shopperID, a.InstrumentID) >= c.perUser {
			return &ConflictError{InstrumentID: a.InstrumentID, Reason: "USER_LIMIT_REACHED"}
		}
	}

	at := m.now()
	records := make([]Record, 0, len(decision.Applied))
	for _, a := range decision.Applied {
		m.state[a.InstrumentID].redeemed++
		records = append(records, Record{
			InstrumentID: a.InstrumentID,
			Kind:         a.Kind,
			ShopperID:    shopperID,
			OrderID:      orderID,
			AmountOff:    a.AmountOff,
			CommittedAt:  at,
		})
	}
	m.byOrder[orderID] = records
	return nil
}

// Release decrements the counters the order's commit incremented. Calling it
// twice for the same order has the effect of calling it once.
func (m *Memory) Release(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released[orderID] {
		return nil
	}
	records, ok := m.byOrder[orderID]
	if !ok {
		return nil
	}
	for _, r := range records {
		if c, ok := m.state[r.InstrumentID]; ok && c.redeemed > 0 {
			c.redeemed--
		}
	}
	m.released[orderID] = true
	return nil
}

// ShopperUses counts the shopper's unreleased records per instrument.
func (m *Memory) ShopperUses(_ context.Context, shopperID string, instrumentIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uses := make(map[string]int, len(instrumentIDs))
	for _, id := range instrumentIDs {
		uses[id] = m.usesLocked(shopperID, id)
	}
	return uses, nil
}

// usesLocked counts unreleased records for (shopper, instrument). Caller
// holds m.mu.
func (m *Memory) usesLocked(shopperID, instrumentID string) int {
	n := 0
	for orderID, records := range m.byOrder {
		if m.released[orderID] {
			continue
		}
		for _, r := range records {
			if r.ShopperID == shopperID && r.InstrumentID == instrumentID {
				n++
			}
		}
	}
	return n
}
