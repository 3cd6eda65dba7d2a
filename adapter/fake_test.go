package adapter

import (
	"testing"

	"github.com/librescoot/nfc-binder/nci"
	"github.com/librescoot/nfc-binder/transport"
)

type fakeCall struct {
	op      transport.Op
	id      uint64
	data    []byte
	done    transport.CompleteFunc
	cleanup func()
}

type fakeTransport struct {
	lastID       uint64
	calls        map[uint64]*fakeCall
	sent         []*fakeCall
	failDispatch bool
	cancelled    []uint64
	maxCalls     int
	cleanups     int
	// detached mirrors the callback object being dropped on close
	detached bool

	lastSub   uint64
	events    map[uint64]transport.EventFunc
	data      map[uint64]transport.DataFunc
	deaths    map[uint64]func()
	deathSubs int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		calls:  make(map[uint64]*fakeCall),
		events: make(map[uint64]transport.EventFunc),
		data:   make(map[uint64]transport.DataFunc),
		deaths: make(map[uint64]func()),
	}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) submit(op transport.Op, data []byte, done transport.CompleteFunc, cleanup func()) uint64 {
	if f.failDispatch {
		f.release(cleanup)
		return 0
	}
	f.lastID++
	c := &fakeCall{op: op, id: f.lastID, data: data, done: done, cleanup: cleanup}
	f.calls[c.id] = c
	f.sent = append(f.sent, c)
	if n := f.outstanding(); n > f.maxCalls {
		f.maxCalls = n
	}
	return c.id
}

// outstanding counts calls other than writes.
func (f *fakeTransport) outstanding() int {
	n := 0
	for _, c := range f.calls {
		if c.op != transport.OpWrite {
			n++
		}
	}
	return n
}

func (f *fakeTransport) Open(done transport.CompleteFunc, cleanup func()) uint64 {
	f.detached = false
	return f.submit(transport.OpOpen, nil, done, cleanup)
}

func (f *fakeTransport) Close(done transport.CompleteFunc, cleanup func()) uint64 {
	return f.submit(transport.OpClose, nil, done, cleanup)
}

func (f *fakeTransport) CoreInitialized(done transport.CompleteFunc, cleanup func()) uint64 {
	return f.submit(transport.OpCoreInitialized, nil, done, cleanup)
}

func (f *fakeTransport) Prediscover(done transport.CompleteFunc, cleanup func()) uint64 {
	return f.submit(transport.OpPrediscover, nil, done, cleanup)
}

func (f *fakeTransport) Write(data []byte, done transport.CompleteFunc, cleanup func()) uint64 {
	return f.submit(transport.OpWrite, data, done, cleanup)
}

func (f *fakeTransport) Cancel(id uint64) {
	c, ok := f.calls[id]
	if !ok {
		return
	}
	delete(f.calls, id)
	f.cancelled = append(f.cancelled, id)
	f.release(c.cleanup)
}

func (f *fakeTransport) release(cleanup func()) {
	if cleanup != nil {
		f.cleanups++
		cleanup()
	}
}

func (f *fakeTransport) AddEventHandler(ev transport.Event, fn transport.EventFunc) uint64 {
	f.lastSub++
	f.events[f.lastSub] = fn
	return f.lastSub
}

func (f *fakeTransport) AddDataHandler(fn transport.DataFunc) uint64 {
	f.lastSub++
	f.data[f.lastSub] = fn
	return f.lastSub
}

func (f *fakeTransport) AddDeathHandler(fn func()) uint64 {
	f.lastSub++
	f.deaths[f.lastSub] = fn
	f.deathSubs++
	return f.lastSub
}

func (f *fakeTransport) RemoveHandler(id uint64) {
	delete(f.events, id)
	delete(f.data, id)
	delete(f.deaths, id)
}

// find returns the single outstanding call of op.
func (f *fakeTransport) find(t *testing.T, op transport.Op) *fakeCall {
	t.Helper()
	var found *fakeCall
	for _, c := range f.calls {
		if c.op == op {
			if found != nil {
				t.Fatalf("more than one %s outstanding", op)
			}
			found = c
		}
	}
	if found == nil {
		t.Fatalf("no %s outstanding", op)
	}
	return found
}

func (f *fakeTransport) has(op transport.Op) bool {
	for _, c := range f.calls {
		if c.op == op {
			return true
		}
	}
	return false
}

func (f *fakeTransport) complete(t *testing.T, op transport.Op, ok bool) {
	t.Helper()
	c := f.find(t, op)
	delete(f.calls, c.id)
	if c.op == transport.OpClose {
		f.detached = true
	}
	if c.done != nil {
		c.done(ok)
	}
	f.release(c.cleanup)
}

func (f *fakeTransport) push(ev transport.Event) {
	if f.detached {
		return
	}
	for _, fn := range f.events {
		fn(ev)
	}
}

func (f *fakeTransport) pushData(data []byte) {
	for _, fn := range f.data {
		fn(data)
	}
}

func (f *fakeTransport) die() {
	for _, fn := range f.deaths {
		fn()
	}
}

func (f *fakeTransport) count(op transport.Op) int {
	n := 0
	for _, c := range f.sent {
		if c.op == op {
			n++
		}
	}
	return n
}

// fakeCore is a scripted NCI engine. State requests are recorded, state
// changes happen only when the test calls set.
type fakeCore struct {
	current   nci.State
	next      nci.State
	listener  nci.StateListener
	requested []nci.State
	restarts  int
}

func (c *fakeCore) CurrentState() nci.State { return c.current }
func (c *fakeCore) NextState() nci.State    { return c.next }

// SetState only moves the next state, like the engine does while its
// commands are in flight.
func (c *fakeCore) SetState(s nci.State) {
	c.requested = append(c.requested, s)
	switch {
	case s == nci.StateIdle && c.current >= nci.StateIdle:
	case s == nci.StateDiscovery && c.current == nci.StateIdle:
	default:
		return
	}
	if c.next != s {
		c.next = s
		if c.listener != nil {
			c.listener.NextStateChanged()
		}
	}
}

func (c *fakeCore) Restart() {
	c.restarts++
	c.current = nci.StateInit
	c.next = nci.StateIdle
}

func (c *fakeCore) set(current, next nci.State) {
	nextChanged := c.next != next
	currentChanged := c.current != current
	c.current, c.next = current, next
	if c.listener == nil {
		return
	}
	if nextChanged {
		c.listener.NextStateChanged()
	}
	if currentChanged {
		c.listener.CurrentStateChanged()
	}
}

// force changes state without notifying the listener.
func (c *fakeCore) force(current, next nci.State) {
	c.current, c.next = current, next
}

func (c *fakeCore) lastRequest() (nci.State, bool) {
	if len(c.requested) == 0 {
		return 0, false
	}
	return c.requested[len(c.requested)-1], true
}

type powerEvent struct {
	on        bool
	requested bool
}

type fixture struct {
	t      *fakeTransport
	core   *fakeCore
	a      *Adapter
	events []powerEvent
}

func newFixture() *fixture {
	f := &fixture{t: newFakeTransport(), core: &fakeCore{}}
	f.a = New(f.t, f.core)
	f.core.listener = f.a
	f.a.AddPowerHandler(func(on, requested bool) {
		f.events = append(f.events, powerEvent{on, requested})
	})
	return f
}

// powerOn runs a full power-on and initialization handshake.
func (f *fixture) powerOn(t *testing.T) {
	t.Helper()
	if !f.a.SubmitPowerRequest(true) {
		t.Fatalf("expected power on to be pending")
	}
	f.t.complete(t, transport.OpOpen, true)
	f.t.push(transport.EventOpenComplete)
	if !f.a.Powered() {
		t.Fatalf("expected adapter to be powered")
	}
	f.core.set(nci.StateIdle, nci.StateIdle)
	f.t.complete(t, transport.OpCoreInitialized, true)
	f.t.complete(t, transport.OpPrediscover, true)
	f.core.set(nci.StateDiscovery, nci.StateDiscovery)
	f.events = nil
}

type fakeClient struct {
	reads [][]byte
}

func (c *fakeClient) Read(data []byte) {
	c.reads = append(c.reads, data)
}
