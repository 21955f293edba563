package cart

import (
	"context"
	"sync"
	"time"
)

// State is the single owned cart container of one session. Reconcilers serialise whole operations on it and
// every applied snapshot carries a sequence number; a snapshot older than the last applied one is rejected.
type State struct {
	op sync.Mutex

	mu      sync.RWMutex
	entries []Entry
	mode    Mode
	issued  uint64
	applied uint64

	lastUsed time.Time
}

// NewState returns an empty guest cart.
func NewState() *State {
	return &State{entries: []Entry{}, mode: ModeGuest}
}

// Ticket reserves the sequence number for a snapshot about to be produced.
func (s *State) Ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Apply replaces the cart when ticket is newer than the last applied snapshot. It reports whether the
// snapshot was applied and returns the current snapshot either way.
func (s *State) Apply(ticket uint64, mode Mode, entries []Entry) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket <= s.applied {
		return s.snapshotLocked(), false
	}
	s.entries = normalizeEntries(entries)
	s.mode = mode
	s.applied = ticket
	return s.snapshotLocked(), true
}

// Snapshot returns a copy of the current cart.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Items returns a copy of the current entries.
func (s *State) Items() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.entries)
}

// Mode returns the store the current cart mirrors.
func (s *State) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Items:  cloneEntries(s.entries),
		Totals: ComputeTotals(s.entries),
		Mode:   s.mode,
		Seq:    s.applied,
	}
}

// Registry holds one State per session and forgets sessions that stay idle.
type Registry struct {
	mu      sync.Mutex
	states  map[string]*State
	idleTTL time.Duration
	now     func() time.Time
}

// NewRegistry builds a registry. idleTTL <= 0 disables sweeping; now defaults to time.Now.
func NewRegistry(idleTTL time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{states: make(map[string]*State), idleTTL: idleTTL, now: now}
}

// State returns the session's state, creating it on first use.
func (r *Registry) State(sessionID string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[sessionID]
	if !ok {
		st = NewState()
		r.states[sessionID] = st
	}
	st.lastUsed = r.now()
	return st
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Sweep drops states idle for longer than the TTL and not in the middle of an operation.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for id, st := range r.states {
		if !st.lastUsed.Before(cutoff) {
			continue
		}
		if !st.op.TryLock() {
			continue
		}
		delete(r.states, id)
		st.op.Unlock()
		removed++
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 || r.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := r.Sweep()
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}
