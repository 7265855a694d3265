package generate

import "sync"

// Ticket identifies one generation request against a slot.
type Ticket struct {
	Slot string
	seq  uint64
}

// Sequencer orders overlapping generations that target the same slot (for
// example one content field of one funnel). Only a result whose ticket is newer
// than the last committed one may be applied, so a slow early request can not
// overwrite a faster later one.
type Sequencer struct {
	mu        sync.Mutex
	issued    map[string]uint64
	committed map[string]uint64
}

// NewSequencer returns an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{issued: make(map[string]uint64), committed: make(map[string]uint64)}
}

// Begin issues the next ticket for slot.
func (s *Sequencer) Begin(slot string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[slot]++
	return Ticket{Slot: slot, seq: s.issued[slot]}
}

// Commit reports whether t may be applied and, if so, records it as the latest.
func (s *Sequencer) Commit(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.seq <= s.committed[t.Slot] {
		return false
	}
	s.committed[t.Slot] = t.seq
	return true
}
