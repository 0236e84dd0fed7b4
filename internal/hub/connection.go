package hub

import (
	"sync"
	"time"
)

type connState int

const (
	stateOpen connState = iota
	stateResetting
	stateClosed
)

// Connection is one live client. Its outbound queue is written by the hub
// and read by the connection's own writer; both sides go through mu.
type Connection struct {
	id           string
	capacity     int
	lagThreshold int

	mu           sync.Mutex
	queue        [][]byte
	final        []byte
	state        connState
	dropped      bool
	laggingSince time.Time

	ready chan struct{}
	done  chan struct{}
}

func newConnection(id string, capacity, lagThreshold int) *Connection {
	return &Connection{
		id:           id,
		capacity:     capacity,
		lagThreshold: lagThreshold,
		queue:        make([][]byte, 0, capacity),
		ready:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

// Ready is signalled whenever the queue may have something to pop.
func (c *Connection) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when the connection is disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// enqueue appends msg, dropping the oldest message when full. It reports
// whether a message was dropped; closed or resetting connections take nothing.
func (c *Connection) enqueue(msg []byte, now time.Time) (accepted, dropped bool) {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return false, false
	}

	if len(c.queue) >= c.capacity {
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.dropped = true
		dropped = true
	}
	c.queue = append(c.queue, msg)
	c.updateLagLocked(now)
	c.mu.Unlock()

	c.signal()
	return true, dropped
}

// Pop returns the next outbound message. final is true for the resync
// message, after which the writer must close the transport.
func (c *Connection) Pop() (msg []byte, final, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) > 0 {
		msg = c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.updateLagLocked(time.Time{})
		return msg, false, true
	}
	if c.final != nil {
		msg = c.final
		c.final = nil
		return msg, true, true
	}
	return nil, false, false
}

func (c *Connection) updateLagLocked(now time.Time) {
	lagging := c.dropped || len(c.queue) >= c.lagThreshold
	switch {
	case lagging && c.laggingSince.IsZero() && !now.IsZero():
		c.laggingSince = now
	case !lagging:
		c.laggingSince = time.Time{}
	}
}

// Lagging reports whether the connection is lagging and since when.
func (c *Connection) Lagging() (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.laggingSince.IsZero(), c.laggingSince
}

func (c *Connection) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// reset discards everything queued and leaves msg as the only message left to
// write. It succeeds once per connection.
func (c *Connection) reset(msg []byte) bool {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return false
	}
	c.state = stateResetting
	for i := range c.queue {
		c.queue[i] = nil
	}
	c.queue = c.queue[:0]
	c.final = msg
	c.mu.Unlock()

	c.signal()
	return true
}

// close reports whether the connection was still open, i.e. not already
// closed or reset.
func (c *Connection) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return false
	}
	wasOpen := c.state == stateOpen
	c.state = stateClosed
	c.queue = nil
	c.final = nil
	close(c.done)
	return wasOpen
}

func (c *Connection) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
