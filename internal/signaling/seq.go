package signaling

// sequencer assigns per-recipient sequence numbers. It is not safe for
// concurrent use; callers hold their own lock.
type sequencer struct {
	last map[string]uint64
}

func newSequencer() sequencer {
	return sequencer{last: make(map[string]uint64)}
}

// next returns the next sequence number for recipient, starting at 1.
func (s sequencer) next(recipient string) uint64 {
	s.last[recipient]++
	return s.last[recipient]
}
