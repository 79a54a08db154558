package collection

import "sync"

// Outbox records that the collection changed since the last successful push.
// Every mutation bumps a sequence number; a push acknowledges the sequence it
// encoded. Signals are coalesced: at most one wake-up is buffered.
type Outbox struct {
	mu     sync.Mutex
	seq    uint64
	acked  uint64
	signal chan struct{}
}

// NewOutbox constructs an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{signal: make(chan struct{}, 1)}
}

// Mark records a mutation and wakes the flusher.
func (o *Outbox) Mark() uint64 {
	o.mu.Lock()
	o.seq++
	seq := o.seq
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return seq
}

// Pending returns the latest sequence and whether it has not been pushed yet.
func (o *Outbox) Pending() (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq, o.seq > o.acked
}

// Ack marks every mutation up to seq as pushed.
func (o *Outbox) Ack(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq > o.acked {
		o.acked = seq
	}
}

// Reset discards pending work. Used after a pull overwrote local state.
func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acked = o.seq
}

// Signal fires after mutations.
func (o *Outbox) Signal() <-chan struct{} {
	return o.signal
}
