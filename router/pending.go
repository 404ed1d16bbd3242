package router

import (
	"sync"
)

// pendingTable tracks in-flight request/response exchanges by correlation
// id. Each waiter owns a buffered channel of size one so a late completion
// never blocks the routing worker.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		waiters: make(map[string]chan Message),
	}
}

// Register creates a waiter for a correlation id
func (p *pendingTable) Register(correlationID string) <-chan Message {
	ch := make(chan Message, 1)

	p.mu.Lock()
	p.waiters[correlationID] = ch
	p.mu.Unlock()

	return ch
}

// Complete delivers a response to its waiter. Returns false when no waiter
// is registered (late or unsolicited response).
func (p *pendingTable) Complete(m Message) bool {
	if m.CorrelationID == "" {
		return false
	}

	p.mu.Lock()
	ch, ok := p.waiters[m.CorrelationID]
	if ok {
		delete(p.waiters, m.CorrelationID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- m
	return true
}

// Cancel removes a waiter without completing it (timeout or shutdown)
func (p *pendingTable) Cancel(correlationID string) {
	p.mu.Lock()
	delete(p.waiters, correlationID)
	p.mu.Unlock()
}

// Len returns the number of outstanding waiters
func (p *pendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
