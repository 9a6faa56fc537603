package signal

import (
	"sync"

	"meetsignal/internal/core/domain"
)

// socketCounter caps concurrent sockets per identity on this instance.
type socketCounter struct {
	mu     sync.Mutex
	counts map[domain.ParticipantID]int
}

func newSocketCounter() *socketCounter {
	return &socketCounter{counts: make(map[domain.ParticipantID]int)}
}

// acquire reserves a socket for id. A max of zero disables the cap.
func (c *socketCounter) acquire(id domain.ParticipantID, max int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max > 0 && c.counts[id] >= max {
		return false
	}
	c.counts[id]++
	return true
}

func (c *socketCounter) release(id domain.ParticipantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[id] <= 1 {
		delete(c.counts, id)
		return
	}
	c.counts[id]--
}

func (c *socketCounter) count(id domain.ParticipantID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}
