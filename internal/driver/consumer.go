package driver

import "patchbay/internal/domain"

// Consumer receives structural deltas of the model. Apply runs on the
// goroutine that called the driver method producing the delta and must not
// call back into ProcessEvents, Refresh, DestroyAll or CreatePortView.
type Consumer interface {
	Apply(domain.Delta)
}

// ConsumerFunc adapts a function to the Consumer interface
type ConsumerFunc func(domain.Delta)

// Apply calls f(d)
func (f ConsumerFunc) Apply(d domain.Delta) { f(d) }

// counter forwards deltas and counts them
type counter struct {
	next Consumer
	n    int
}

func (c *counter) Apply(d domain.Delta) {
	c.n++
	if c.next != nil {
		c.next.Apply(d)
	}
}
