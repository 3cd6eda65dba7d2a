// Package transport normalizes the two NFC HAL wire encodings into one
// asynchronous operation set.
//
// Every operation returns a non-zero call id once the request has been
// handed to the IPC layer, or 0 if it could not be submitted. A zero id is
// terminal: the cleanup function has already run and the completion
// callback will never be invoked. For a non-zero id exactly one of two
// things eventually happens: the completion callback runs with the
// outcome, or the caller cancels the call. The cleanup function runs
// exactly once in every case.
//
// All methods must be called from the ipc.Loop goroutine.
package transport

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/librescoot/nfc-binder/internal/metrics"
	"github.com/librescoot/nfc-binder/internal/signal"
	"github.com/librescoot/nfc-binder/ipc"
)

// Event is an actionable inbound event. EventAny subscribes to all of them.
type Event int

const (
	EventAny Event = iota
	EventOpenComplete
	EventCloseComplete
)

// String returns a string representation of the event
func (e Event) String() string {
	switch e {
	case EventAny:
		return "any"
	case EventOpenComplete:
		return "OPEN_COMPLETE"
	case EventCloseComplete:
		return "CLOSE_COMPLETE"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

type (
	CompleteFunc func(ok bool)
	EventFunc    func(ev Event)
	DataFunc     func(data []byte)
)

// Transport is the uniform operation contract used by the adapter.
type Transport interface {
	Name() string

	Open(done CompleteFunc, cleanup func()) uint64
	Close(done CompleteFunc, cleanup func()) uint64
	CoreInitialized(done CompleteFunc, cleanup func()) uint64
	Prediscover(done CompleteFunc, cleanup func()) uint64
	Write(data []byte, done CompleteFunc, cleanup func()) uint64

	// Cancel drops an outstanding call. Its cleanup runs, done does not.
	Cancel(id uint64)

	AddEventHandler(ev Event, fn EventFunc) uint64
	AddDataHandler(fn DataFunc) uint64
	AddDeathHandler(fn func()) uint64
	RemoveHandler(id uint64)
}

type topic int

const (
	topicEvent topic = iota
	topicData
	topicDeath
)

type subKey struct {
	topic topic
	event Event
}

type handler struct {
	event EventFunc
	data  DataFunc
	death func()
}

// Option configures a Binding.
type Option func(*Binding)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Binding) {
		b.log = log
	}
}

// WithViolationLimit limits how often protocol violations are logged.
func WithViolationLimit(limit rate.Limit, burst int) Option {
	return func(b *Binding) {
		b.limiter = rate.NewLimiter(limit, burst)
	}
}

// Binding implements Transport on top of an ipc.Remote using a Codec.
type Binding struct {
	codec   Codec
	remote  ipc.Remote
	client  ipc.Client
	log     zerolog.Logger
	limiter *rate.Limiter

	callback ipc.LocalObject
	calls    map[uint64]*call
	subs     signal.Registry[subKey, handler]
	deathID  uint64
	released bool
}

// Backend names accepted by New.
const (
	BackendAIDL = "aidl"
	BackendHIDL = "hidl"
)

// New creates a binding for the named backend.
func New(backend string, remote ipc.Remote, opts ...Option) (*Binding, error) {
	switch backend {
	case BackendAIDL:
		return NewBinding(AIDLCodec{}, remote, opts...), nil
	case BackendHIDL:
		return NewBinding(HIDLCodec{}, remote, opts...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}

// NewAIDL creates a Modern Transport binding.
func NewAIDL(remote ipc.Remote, opts ...Option) *Binding {
	return NewBinding(AIDLCodec{}, remote, opts...)
}

// NewHIDL creates a Legacy Transport binding.
func NewHIDL(remote ipc.Remote, opts ...Option) *Binding {
	return NewBinding(HIDLCodec{}, remote, opts...)
}

// NewBinding creates a binding using codec.
func NewBinding(codec Codec, remote ipc.Remote, opts ...Option) *Binding {
	b := &Binding{
		codec:   codec,
		remote:  remote,
		client:  remote.NewClient(codec.ServiceInterface()),
		log:     zerolog.Nop(),
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		calls:   make(map[uint64]*call),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With().Str("component", "transport").Str("backend", codec.Name()).Logger()
	return b
}

// Name implements Transport.
func (b *Binding) Name() string {
	return b.codec.Name()
}

// Open attaches the callback object, creating it if needed, and opens the HAL.
func (b *Binding) Open(done CompleteFunc, cleanup func()) uint64 {
	if b.callback == nil && !b.released {
		b.callback = b.remote.NewLocalObject(b.codec.CallbackInterface(), b.handlePush)
		b.log.Debug().Uint32("handle", b.callback.Handle()).Msg("Created callback object")
	}
	return b.submit(OpOpen, nil, done, cleanup)
}

// Close closes the HAL. The callback object is released once the remote
// has replied, before done runs.
func (b *Binding) Close(done CompleteFunc, cleanup func()) uint64 {
	return b.submit(OpClose, nil, done, cleanup)
}

// CoreInitialized implements Transport.
func (b *Binding) CoreInitialized(done CompleteFunc, cleanup func()) uint64 {
	return b.submit(OpCoreInitialized, nil, done, cleanup)
}

// Prediscover implements Transport.
func (b *Binding) Prediscover(done CompleteFunc, cleanup func()) uint64 {
	return b.submit(OpPrediscover, nil, done, cleanup)
}

// Write implements Transport.
func (b *Binding) Write(data []byte, done CompleteFunc, cleanup func()) uint64 {
	return b.submit(OpWrite, data, done, cleanup)
}

// Cancel implements Transport.
func (b *Binding) Cancel(id uint64) {
	c, ok := b.calls[id]
	if !ok {
		return
	}
	b.log.Debug().Stringer("op", c.op).Uint64("id", id).Msg("Cancelling call")
	metrics.RecordCall(b.codec.Name(), c.op.String(), metrics.OutcomeCancelled)
	c.done = nil
	b.client.Cancel(id)
	c.release()
}

// Pending returns the number of calls in the ledger.
func (b *Binding) Pending() int {
	return len(b.calls)
}

// HasCallback reports whether the callback object currently exists.
func (b *Binding) HasCallback() bool {
	return b.callback != nil
}

// AddEventHandler implements Transport.
func (b *Binding) AddEventHandler(ev Event, fn EventFunc) uint64 {
	if fn == nil {
		return 0
	}
	return b.subs.Add(subKey{topic: topicEvent, event: ev}, handler{event: fn})
}

// AddDataHandler implements Transport.
func (b *Binding) AddDataHandler(fn DataFunc) uint64 {
	if fn == nil {
		return 0
	}
	return b.subs.Add(subKey{topic: topicData}, handler{data: fn})
}

// AddDeathHandler registers fn for remote death. The remote is watched
// only once someone is interested.
func (b *Binding) AddDeathHandler(fn func()) uint64 {
	if fn == nil {
		return 0
	}
	if b.deathID == 0 && !b.released {
		b.deathID = b.remote.AddDeathHandler(b.handleDeath)
	}
	return b.subs.Add(subKey{topic: topicDeath}, handler{death: fn})
}

// RemoveHandler implements Transport.
func (b *Binding) RemoveHandler(id uint64) {
	b.subs.Remove(id)
	if b.deathID != 0 && b.subs.Count(subKey{topic: topicDeath}) == 0 {
		b.remote.RemoveHandler(b.deathID)
		b.deathID = 0
	}
}

// Release cancels every outstanding call, drops the callback object and
// all subscriptions.
func (b *Binding) Release() {
	if b.released {
		return
	}
	ids := make([]uint64, 0, len(b.calls))
	for id := range b.calls {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		b.Cancel(id)
	}
	b.dropCallback()
	if b.deathID != 0 {
		b.remote.RemoveHandler(b.deathID)
		b.deathID = 0
	}
	b.subs.Clear()
	b.released = true
}

func (b *Binding) submit(op Op, data []byte, done CompleteFunc, cleanup func()) uint64 {
	c := &call{binding: b, op: op, done: done, cleanup: cleanup}
	if b.released {
		b.dispatchFailed(c)
		return 0
	}
	code, req := b.codec.EncodeRequest(op, b.callback, data)
	id := b.client.Transact(code, req, c.reply, c.release)
	if id == 0 {
		b.dispatchFailed(c)
		return 0
	}
	c.id = id
	b.calls[id] = c
	b.log.Debug().Stringer("op", op).Uint64("id", id).Int("len", len(data)).Msg("Submitted")
	return id
}

func (b *Binding) dispatchFailed(c *call) {
	b.log.Warn().Err(NewDispatchError(c.op)).Msg("Call not submitted")
	metrics.RecordCall(b.codec.Name(), c.op.String(), metrics.OutcomeDispatchFailed)
	c.done = nil
	c.release()
}

// complete turns a raw reply into the call outcome.
func (b *Binding) complete(c *call, reply *ipc.Reader, status ipc.Status) {
	if c.op == OpClose {
		b.dropCallback()
	}

	err := b.outcome(c.op, reply, status)
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
		b.log.Debug().Stringer("op", c.op).Uint64("id", c.id).Msg("Completed")
	case IsProtocolError(err):
		outcome = metrics.OutcomeProtocolError
		b.violation(err)
	default:
		outcome = metrics.OutcomeRemoteError
		b.log.Warn().Err(err).Uint64("id", c.id).Msg("Call failed")
	}
	metrics.RecordCall(b.codec.Name(), c.op.String(), outcome)

	if done := c.done; done != nil {
		c.done = nil
		done(err == nil)
	}
}

func (b *Binding) outcome(op Op, reply *ipc.Reader, status ipc.Status) error {
	if status != ipc.StatusOK {
		return NewRemoteError(op, status, -1)
	}
	if reply == nil {
		return NewMalformedReplyError(op, ipc.ErrTruncated)
	}
	result, err := reply.ReadInt32()
	if err != nil {
		return NewMalformedReplyError(op, err)
	}
	if result != 0 {
		return NewRemoteError(op, status, result)
	}
	return nil
}

func (b *Binding) handlePush(req *ipc.Request) ipc.Status {
	if req.Interface != b.codec.CallbackInterface() {
		b.violation(NewBadInterfaceError(req.Interface))
		return ipc.StatusFailed
	}

	switch b.codec.PushKind(req.Code) {
	case PushEvent:
		return b.handleEvent(req.Reader)
	case PushData:
		return b.handleData(req.Reader)
	}
	b.violation(NewUnknownCodeError(req.Code))
	return ipc.StatusFailed
}

func (b *Binding) handleEvent(r *ipc.Reader) ipc.Status {
	raw, err := r.ReadUint32()
	var status uint32
	if err == nil {
		status, err = r.ReadUint32()
	}
	if err == nil && !r.AtEnd() {
		err = fmt.Errorf("%d trailing bytes", r.Remaining())
	}
	if err != nil {
		b.violation(NewMalformedPushError("failed to parse sendEvent payload", err))
		return ipc.StatusFailed
	}

	name := b.codec.EventName(raw)
	b.log.Debug().Str("event", name).Uint32("status", status).Msg("sendEvent")
	metrics.RecordPush(b.codec.Name(), "event")

	ev, ok := b.codec.Event(raw)
	if !ok {
		b.log.Debug().Str("event", name).Msg("Ignoring event")
		return ipc.StatusOK
	}
	b.emitEvent(ev)
	return ipc.StatusOK
}

func (b *Binding) handleData(r *ipc.Reader) ipc.Status {
	data, err := b.codec.ReadBlock(r)
	if err == nil && !r.AtEnd() {
		err = fmt.Errorf("%d trailing bytes", r.Remaining())
	}
	if err != nil {
		b.violation(NewMalformedPushError("failed to parse sendData payload", err))
		return ipc.StatusFailed
	}

	b.log.Debug().Int("len", len(data)).Msg("sendData")
	metrics.RecordPush(b.codec.Name(), "data")
	b.subs.Each(subKey{topic: topicData}, func(h handler) { h.data(data) })
	return ipc.StatusOK
}

func (b *Binding) emitEvent(ev Event) {
	b.subs.Each(subKey{topic: topicEvent, event: ev}, func(h handler) { h.event(ev) })
	b.subs.Each(subKey{topic: topicEvent, event: EventAny}, func(h handler) { h.event(ev) })
}

func (b *Binding) handleDeath() {
	b.log.Warn().Err(NewPeerDeathError(b.codec.Name())).Msg("Peer death")
	b.subs.Each(subKey{topic: topicDeath}, func(h handler) { h.death() })
}

func (b *Binding) dropCallback() {
	if b.callback == nil {
		return
	}
	b.log.Debug().Uint32("handle", b.callback.Handle()).Msg("Dropping callback object")
	b.callback.Drop()
	b.callback = nil
}

func (b *Binding) violation(err error) {
	if b.limiter.Allow() {
		b.log.Warn().Err(err).Msg("Protocol violation")
	}
}
