// Package presencetest provides a recording presence.Conn for tests.
package presencetest

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Emitted is one recorded Emit call with its payload round-tripped through JSON
type Emitted struct {
	Event   string
	Payload map[string]any
	Raw     []byte
}

// Conn records everything emitted to it
type Conn struct {
	ID string

	mu     sync.Mutex
	events []Emitted
	Closed bool
}

// NewConn returns a Conn with a random id
func NewConn() *Conn {
	return &Conn{ID: uuid.NewString()}
}

func (c *Conn) ConnID() string { return c.ID }

func (c *Conn) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var decoded map[string]any
	// list payloads (online users) are kept raw only
	_ = json.Unmarshal(raw, &decoded)

	c.mu.Lock()
	c.events = append(c.events, Emitted{Event: event, Payload: decoded, Raw: raw})
	c.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events
func (c *Conn) Events() []Emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Emitted(nil), c.events...)
}

// Named returns recorded events with the given name
func (c *Conn) Named(event string) []Emitted {
	var out []Emitted
	for _, e := range c.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event with the given name
func (c *Conn) Last(event string) (Emitted, bool) {
	named := c.Named(event)
	if len(named) == 0 {
		return Emitted{}, false
	}
	return named[len(named)-1], true
}

// Reset clears recorded events
func (c *Conn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
