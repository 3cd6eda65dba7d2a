package transport

import "github.com/librescoot/nfc-binder/ipc"

// call is one entry of the call ledger. It holds the binding until it is
// released, which happens exactly once: after completion, on cancel or
// when dispatch fails.
type call struct {
	binding *Binding
	op      Op
	id      uint64
	done    CompleteFunc
	cleanup func()
}

func (c *call) reply(r *ipc.Reader, status ipc.Status) {
	if c.binding == nil {
		return
	}
	c.binding.complete(c, r, status)
}

func (c *call) release() {
	b := c.binding
	if b == nil {
		return
	}
	c.binding = nil
	c.done = nil
	if c.id != 0 {
		delete(b.calls, c.id)
	}
	if cleanup := c.cleanup; cleanup != nil {
		c.cleanup = nil
		cleanup()
	}
}
