package cache

import (
	"github.com/streamvault/streamvault/pkg/types"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses events; delivery is best-effort by contract.
const subscriberBuffer = 16

// Subscribe registers a change-event listener and returns its id together
// with the receive channel. The channel is closed on Unsubscribe or Close.
func (c *Cache) Subscribe() (int, <-chan types.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++

	ch := make(chan types.ChangeEvent, subscriberBuffer)
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel. Unknown ids are
// ignored.
func (c *Cache) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.subscribers[id]
	if !ok {
		return
	}
	delete(c.subscribers, id)
	close(ch)
}

// publishLocked fans an event out to all subscribers without blocking. A full
// channel drops the event for that subscriber only.
func (c *Cache) publishLocked(event types.ChangeEvent) {
	for id, ch := range c.subscribers {
		select {
		case ch <- event:
		default:
			c.logger.Debug("dropping change event for slow subscriber",
				"subscriber", id, "kind", event.Kind, "id", event.StreamID)
		}
	}
}
