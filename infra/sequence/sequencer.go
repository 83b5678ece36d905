package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic IDs.
// It is restart-safe: on start it resumes from the last ID the ledger saw.
type Sequencer struct {
	last atomic.Int64
}

// New creates a sequencer whose first Next returns last+1.
// On fresh start → last = 0
// On restore → last = highest persisted ID
func New(last int64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

// Next returns the next ID.
func (s *Sequencer) Next() int64 {
	return s.last.Add(1)
}

// Last returns the last issued ID.
func (s *Sequencer) Last() int64 {
	return s.last.Load()
}

// Peek returns the ID the next call to Next will return.
func (s *Sequencer) Peek() int64 {
	return s.last.Load() + 1
}

// AdvanceTo moves the sequencer forward so Last is at least v.
// It never moves backwards and reports whether it moved.
func (s *Sequencer) AdvanceTo(v int64) bool {
	for {
		cur := s.last.Load()
		if v <= cur {
			return false
		}
		if s.last.CompareAndSwap(cur, v) {
			return true
		}
	}
}
