package market

import (
	"fmt"
	"sync"
	"time"
)

// Sim is an in-memory perpetual-futures venue implementing Adapter. It holds
// one position per market for the owning account, fills orders at the current
// oracle price against the caller's fill bound, and enforces a margin floor on
// open positions. There is no matching engine: the venue is a black box that
// either fills at the oracle price or rejects.
type Sim struct {
	mu        sync.RWMutex
	markets   map[Key]*simMarket
	nextPosID uint64
	now       func() int64
}

type simMarket struct {
	params       Params
	status       Status
	price        int64
	priceInvalid bool
	pos          Position
	delayed      *DelayedOrder
}

func NewSim() *Sim {
	return &Sim{
		markets: make(map[Key]*simMarket),
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Register adds a market with an initial oracle price.
func (s *Sim) Register(key Key, params Params, price int64) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("market %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.markets[key]; exists {
		return fmt.Errorf("market %s already registered", key)
	}
	s.markets[key] = &simMarket{params: params, status: Active, price: price}
	return nil
}

// SetPrice moves the oracle price. Used by tests and the price feed loop.
func (s *Sim) SetPrice(key Key, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.lookup(key)
	if err != nil {
		return err
	}
	m.price = price
	m.priceInvalid = false
	return nil
}

// SetPriceInvalid marks the oracle reading invalid (stale feed).
func (s *Sim) SetPriceInvalid(key Key, invalid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.lookup(key)
	if err != nil {
		return err
	}
	m.priceInvalid = invalid
	return nil
}

// SetStatus pauses or resumes trading on a market.
func (s *Sim) SetStatus(key Key, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.lookup(key)
	if err != nil {
		return err
	}
	m.status = status
	return nil
}

func (s *Sim) lookup(key Key) (*simMarket, error) {
	m, ok := s.markets[key]
	if !ok {
		return nil, fmt.Errorf("market %s not found", key)
	}
	return m, nil
}

func (s *Sim) Position(key Key) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.lookup(key)
	if err != nil {
		return Position{}, err
	}
	return m.pos, nil
}

func (s *Sim) DelayedOrder(key Key) (DelayedOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.lookup(key)
	if err != nil {
		return DelayedOrder{}, err
	}
	if m.delayed == nil {
		return DelayedOrder{}, nil
	}
	return *m.delayed, nil
}

func (s *Sim) AssetPrice(key Key) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	if m.priceInvalid {
		return 0, fmt.Errorf("market %s: invalid price", key)
	}
	return m.price, nil
}

func (s *Sim) Suspended(key Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.lookup(key)
	if err != nil {
		return false, err
	}
	return m.status != Active, nil
}

func (s *Sim) BaseFeeBps(key Key) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	return m.params.BaseFeeBps, nil
}

// Begin opens a session over a deep copy of the venue state. Commit swaps the
// copy in under the lock; Discard drops it.
func (s *Sim) Begin() (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staged := make(map[Key]*simMarket, len(s.markets))
	for key, m := range s.markets {
		cp := *m
		if m.delayed != nil {
			d := *m.delayed
			cp.delayed = &d
		}
		staged[key] = &cp
	}
	return &simSession{sim: s, markets: staged, nextPosID: s.nextPosID}, nil
}

type simSession struct {
	sim       *Sim
	markets   map[Key]*simMarket
	nextPosID uint64
	done      bool
}

func (ss *simSession) lookup(key Key) (*simMarket, error) {
	m, ok := ss.markets[key]
	if !ok {
		return nil, fmt.Errorf("market %s not found", key)
	}
	if m.status != Active {
		return nil, fmt.Errorf("market %s suspended", key)
	}
	return m, nil
}

func (ss *simSession) Position(key Key) (Position, error) {
	m, ok := ss.markets[key]
	if !ok {
		return Position{}, fmt.Errorf("market %s not found", key)
	}
	return m.pos, nil
}

func (ss *simSession) AssetPrice(key Key) (int64, error) {
	m, ok := ss.markets[key]
	if !ok {
		return 0, fmt.Errorf("market %s not found", key)
	}
	if m.priceInvalid {
		return 0, fmt.Errorf("market %s: invalid price", key)
	}
	return m.price, nil
}

func (ss *simSession) ModifyMargin(key Key, delta int64) error {
	m, err := ss.lookup(key)
	if err != nil {
		return err
	}
	next := m.pos.Margin + delta
	if next < 0 {
		return fmt.Errorf("market %s: margin withdrawal exceeds balance (have %d, withdraw %d)", key, m.pos.Margin, -delta)
	}
	if delta < 0 && m.pos.Size != 0 {
		required := m.params.RequiredMaintenanceMargin(m.price, m.pos.Size)
		if next < required {
			return fmt.Errorf("market %s: withdrawal would breach margin floor (margin %d, required %d)", key, next, required)
		}
	}
	m.pos.Margin = next
	return nil
}

func (ss *simSession) WithdrawAllMargin(key Key) (int64, error) {
	m, err := ss.lookup(key)
	if err != nil {
		return 0, err
	}
	accessible := m.pos.Margin
	if m.pos.Size != 0 {
		accessible -= m.params.RequiredMaintenanceMargin(m.price, m.pos.Size)
	}
	if accessible <= 0 {
		return 0, nil
	}
	m.pos.Margin -= accessible
	return accessible, nil
}

func (ss *simSession) SubmitAtomicOrder(key Key, sizeDelta, fillBound int64) error {
	m, err := ss.lookup(key)
	if err != nil {
		return err
	}
	if sizeDelta == 0 {
		return fmt.Errorf("market %s: zero size order", key)
	}
	if m.priceInvalid {
		return fmt.Errorf("market %s: invalid price", key)
	}
	price := m.price
	// Fill bound is the worst acceptable fill: a buy must fill at or below
	// it, a sell at or above it.
	if sizeDelta > 0 && price > fillBound {
		return fmt.Errorf("market %s: fill price %d above bound %d", key, price, fillBound)
	}
	if sizeDelta < 0 && price < fillBound {
		return fmt.Errorf("market %s: fill price %d below bound %d", key, price, fillBound)
	}
	return ss.applyFill(key, m, sizeDelta, price)
}

func (ss *simSession) applyFill(key Key, m *simMarket, sizeDelta, price int64) error {
	oldSize := m.pos.Size
	newSize := oldSize + sizeDelta

	if abs(newSize) > m.params.MaxPosition {
		return fmt.Errorf("market %s: position %d would exceed max %d", key, abs(newSize), m.params.MaxPosition)
	}

	switch {
	case newSize == 0:
		// Full close: realize PnL into margin.
		m.pos.Margin += (price - m.pos.LastPrice) * oldSize
		m.pos.Size = 0
		m.pos.LastPrice = 0
	case (oldSize >= 0 && newSize > 0) || (oldSize <= 0 && newSize < 0):
		// Same direction: VWAP entry.
		if oldSize == 0 {
			ss.nextPosID++
			m.pos.ID = ss.nextPosID
			m.pos.LastPrice = price
		} else {
			m.pos.LastPrice = (m.pos.LastPrice*abs(oldSize) + price*abs(sizeDelta)) / abs(newSize)
		}
		m.pos.Size = newSize
	default:
		// Reduced through zero: realize the closed leg, re-enter at fill price.
		m.pos.Margin += (price - m.pos.LastPrice) * oldSize
		ss.nextPosID++
		m.pos.ID = ss.nextPosID
		m.pos.LastPrice = price
		m.pos.Size = newSize
	}

	if m.pos.Margin < 0 {
		return fmt.Errorf("market %s: realized loss exceeds margin", key)
	}
	if m.pos.Size != 0 {
		required := m.params.RequiredMaintenanceMargin(price, m.pos.Size)
		if m.pos.Margin < required {
			return fmt.Errorf("market %s: insufficient margin for position (margin %d, required %d)", key, m.pos.Margin, required)
		}
	}
	return nil
}

func (ss *simSession) SubmitDelayedOrder(key Key, sizeDelta, fillBound int64) error {
	return ss.submitDelayed(key, sizeDelta, fillBound, false)
}

func (ss *simSession) SubmitOffchainDelayedOrder(key Key, sizeDelta, fillBound int64) error {
	return ss.submitDelayed(key, sizeDelta, fillBound, true)
}

func (ss *simSession) submitDelayed(key Key, sizeDelta, fillBound int64, offchain bool) error {
	m, err := ss.lookup(key)
	if err != nil {
		return err
	}
	if sizeDelta == 0 {
		return fmt.Errorf("market %s: zero size order", key)
	}
	if m.delayed != nil {
		return fmt.Errorf("market %s: delayed order already pending", key)
	}
	m.delayed = &DelayedOrder{
		SizeDelta:   sizeDelta,
		FillBound:   fillBound,
		Offchain:    offchain,
		SubmittedAt: ss.sim.now(),
	}
	return nil
}

func (ss *simSession) CancelDelayedOrder(key Key) error {
	return ss.cancelDelayed(key, false)
}

func (ss *simSession) CancelOffchainDelayedOrder(key Key) error {
	return ss.cancelDelayed(key, true)
}

func (ss *simSession) cancelDelayed(key Key, offchain bool) error {
	m, err := ss.lookup(key)
	if err != nil {
		return err
	}
	if m.delayed == nil || m.delayed.Offchain != offchain {
		return fmt.Errorf("market %s: no matching delayed order", key)
	}
	m.delayed = nil
	return nil
}

func (ss *simSession) ClosePosition(key Key, fillBound int64) error {
	m, err := ss.lookup(key)
	if err != nil {
		return err
	}
	if m.pos.Size == 0 {
		return fmt.Errorf("market %s: no open position", key)
	}
	return ss.SubmitAtomicOrder(key, -m.pos.Size, fillBound)
}

func (ss *simSession) Commit() error {
	if ss.done {
		return fmt.Errorf("session already finished")
	}
	ss.done = true

	ss.sim.mu.Lock()
	defer ss.sim.mu.Unlock()
	ss.sim.markets = ss.markets
	ss.sim.nextPosID = ss.nextPosID
	return nil
}

func (ss *simSession) Discard() {
	ss.done = true
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
