package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/moznion/go-optional"

	"sma-trading-bot/internal/types"
)

// positionManager is the position ledger. Every read-check-write sequence
// runs under one lock, and every mutation bumps seq so persisted snapshots
// can be ordered.
type positionManager struct {
	mu        sync.Mutex
	positions map[types.PositionKey]*types.Position
	seq       uint64
}

func newPositionManager() *positionManager {
	return &positionManager{
		positions: make(map[types.PositionKey]*types.Position),
	}
}

// load replaces the ledger with persisted positions. A position persisted
// mid-close comes back as open; reconciliation settles it against the
// exchange.
func (pm *positionManager) load(ps []types.Position) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.positions = make(map[types.PositionKey]*types.Position, len(ps))
	for _, p := range ps {
		if p.State == types.StateOpening {
			continue
		}
		p := p
		p.State = types.StateOpen
		pm.positions[p.Key()] = &p
	}
	pm.seq++
}

// reserve claims the (instrument, direction) slot for an entry in flight.
// This is the duplicate check: it fails if the slot is taken in any state.
// With oneWay the opposite slot must be free as well.
func (pm *positionManager) reserve(key types.PositionKey, now time.Time, oneWay bool) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.positions[key]; ok {
		return types.ErrDuplicatePosition
	}
	if oneWay {
		opp := types.PositionKey{Instrument: key.Instrument, Direction: key.Direction.Opposite()}
		if _, ok := pm.positions[opp]; ok {
			return types.ErrOppositePosition
		}
	}
	pm.positions[key] = &types.Position{
		Instrument: key.Instrument,
		Direction:  key.Direction,
		OpenedAt:   now,
		State:      types.StateOpening,
	}
	return nil
}

// release frees a reservation whose order never filled.
func (pm *positionManager) release(key types.PositionKey) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if p, ok := pm.positions[key]; ok && p.State == types.StateOpening {
		delete(pm.positions, key)
	}
}

// commit turns a reservation into an open position.
func (pm *positionManager) commit(p types.Position) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p.State = types.StateOpen
	pm.positions[p.Key()] = &p
	pm.seq++
}

// beginClose moves an open position to closing and returns a copy of it.
// Only one closer can win.
func (pm *positionManager) beginClose(key types.PositionKey) (types.Position, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[key]
	if !ok {
		return types.Position{}, types.ErrPositionNotFound
	}
	if p.State != types.StateOpen {
		return types.Position{}, types.ErrPositionBusy
	}
	p.State = types.StateClosing
	return *p, nil
}

// revertClose returns a position whose closing order failed to open.
func (pm *positionManager) revertClose(key types.PositionKey) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if p, ok := pm.positions[key]; ok && p.State == types.StateClosing {
		p.State = types.StateOpen
	}
}

// remove drops a position after its closing fill.
func (pm *positionManager) remove(key types.PositionKey) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.positions[key]; ok {
		delete(pm.positions, key)
		pm.seq++
	}
}

// ratchet replaces the trailing floor with candidate when candidate is
// strictly more favourable than the current effective stop: higher for a
// long, lower for a short. It reports whether the floor moved.
func (pm *positionManager) ratchet(key types.PositionKey, candidate float64) (types.Position, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[key]
	if !ok || p.State != types.StateOpen {
		return types.Position{}, false
	}
	cur := p.EffectiveStop()
	better := candidate > cur
	if p.Direction == types.Short {
		better = candidate < cur
	}
	if !better {
		return *p, false
	}
	p.TrailingFloor = optional.Some(candidate)
	pm.seq++
	return *p, true
}

func (pm *positionManager) get(key types.PositionKey) (types.Position, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[key]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// snapshot returns copies of every entry sorted by key, with the sequence
// number they belong to.
func (pm *positionManager) snapshot() ([]types.Position, uint64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]types.Position, 0, len(pm.positions))
	for _, p := range pm.positions {
		out = append(out, *p)
	}
	sortPositions(out)
	return out, pm.seq
}

// persistable is snapshot without reservations, which never reached the
// exchange as far as the ledger knows.
func (pm *positionManager) persistable() ([]types.Position, uint64) {
	all, seq := pm.snapshot()
	out := all[:0]
	for _, p := range all {
		if p.State != types.StateOpening {
			out = append(out, p)
		}
	}
	return out, seq
}

func (pm *positionManager) len() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.positions)
}

// dropMissing removes open positions absent from live. Opening and closing
// entries belong to an order in flight and are left alone.
func (pm *positionManager) dropMissing(live map[types.PositionKey]types.ExchangePosition) []types.PositionKey {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var removed []types.PositionKey
	for key, p := range pm.positions {
		if p.State != types.StateOpen {
			continue
		}
		if _, ok := live[key]; ok {
			continue
		}
		delete(pm.positions, key)
		removed = append(removed, key)
	}
	if len(removed) > 0 {
		pm.seq++
	}
	sortKeys(removed)
	return removed
}

// adoptAll inserts the given positions only if the ledger is completely
// empty, checked under the same lock.
func (pm *positionManager) adoptAll(ps []types.Position) []types.PositionKey {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(pm.positions) > 0 || len(ps) == 0 {
		return nil
	}
	keys := make([]types.PositionKey, 0, len(ps))
	for _, p := range ps {
		p := p
		p.State = types.StateOpen
		pm.positions[p.Key()] = &p
		keys = append(keys, p.Key())
	}
	pm.seq++
	sortKeys(keys)
	return keys
}

func sortPositions(ps []types.Position) {
	sort.Slice(ps, func(i, j int) bool {
		return keyLess(ps[i].Key(), ps[j].Key())
	})
}

func sortKeys(ks []types.PositionKey) {
	sort.Slice(ks, func(i, j int) bool { return keyLess(ks[i], ks[j]) })
}

func keyLess(a, b types.PositionKey) bool {
	if a.Instrument != b.Instrument {
		return a.Instrument < b.Instrument
	}
	return a.Direction < b.Direction
}
