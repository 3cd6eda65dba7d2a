// Package adapter drives the NFC HAL power and open/close handshake on top
// of a transport.Transport and bridges NCI traffic between the transport
// and an NCI engine.
//
// Two independent signals report the end of an open or close: the call
// completion and the OPEN_CPLT/CLOSE_CPLT event pushed by the HAL. They
// may arrive in either order. Each open or close arms one continuation
// slot before dispatching; whichever signal finds the slot armed consumes
// it, so both orders end in the same state.
//
// Like the transport, an Adapter is single-threaded and must only be used
// from the ipc.Loop goroutine.
package adapter

import (
	"github.com/rs/zerolog"

	"github.com/librescoot/nfc-binder/internal/metrics"
	"github.com/librescoot/nfc-binder/internal/signal"
	"github.com/librescoot/nfc-binder/nci"
	"github.com/librescoot/nfc-binder/transport"
)

// Core is the part of the NCI engine the adapter drives.
type Core interface {
	CurrentState() nci.State
	NextState() nci.State
	SetState(state nci.State)
	Restart()
}

// PowerFunc is called when the power state changes. requested is true
// when the change completes an outstanding power request.
type PowerFunc func(on, requested bool)

type topic int

const (
	topicPower topic = iota
	topicDeath
)

type handler struct {
	power PowerFunc
	death func()
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Adapter) {
		a.log = log
	}
}

// WithHexdump enables trace level dumps of NCI traffic.
func WithHexdump(enabled bool) Option {
	return func(a *Adapter) {
		a.hexdump = enabled
	}
}

// Adapter is the power state machine of one NFC HAL instance.
type Adapter struct {
	t       transport.Transport
	core    Core
	log     zerolog.Logger
	hexdump bool

	powerOn            bool
	needPower          bool
	powerSwitchPending bool
	coreInitialized    bool
	pendingTx          uint64
	openSlot           action
	closeSlot          action
	closing            bool

	client  nci.HalClient
	writeID uint64

	eventID uint64
	dataID  uint64
	deathID uint64
	subs    signal.Registry[topic, handler]

	released bool
}

// New creates an adapter bound to t. core may be attached later with
// SetCore but must be set before the first power request.
func New(t transport.Transport, core Core, opts ...Option) *Adapter {
	a := &Adapter{
		t:    t,
		core: core,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With().Str("component", "adapter").Str("backend", t.Name()).Logger()
	a.eventID = t.AddEventHandler(transport.EventAny, a.handleEvent)
	a.dataID = t.AddDataHandler(a.handleData)
	return a
}

// SetCore sets the engine driven by the adapter.
func (a *Adapter) SetCore(core Core) {
	a.core = core
}

// Powered reports the actual power state.
func (a *Adapter) Powered() bool {
	return a.powerOn
}

// SubmitPowerRequest records the desired power state and starts switching
// if nothing is in flight. It returns true while a switch is pending; the
// power handlers are notified with requested set once it completes.
func (a *Adapter) SubmitPowerRequest(on bool) bool {
	a.needPower = on
	switch {
	case a.pendingTx != 0:
		a.log.Debug().Bool("on", on).Msg("Waiting for pending call to complete")
		a.powerSwitchPending = true
		a.retarget(on)
	case on:
		if a.powerOn {
			a.log.Debug().Msg("Adapter already opened")
			a.core.SetState(nci.StateIdle)
		} else {
			a.powerSwitchPending = a.open()
		}
	default:
		if a.powerOn {
			if a.canClose() {
				a.powerSwitchPending = a.close()
			} else {
				a.log.Debug().Msg("Waiting for NCI state machine to become idle")
				a.core.SetState(nci.StateIdle)
				a.powerSwitchPending = a.core.CurrentState() != nci.StateIdle &&
					a.core.NextState() == nci.StateIdle
			}
		} else {
			a.log.Debug().Msg("Adapter already closed")
		}
	}
	return a.powerSwitchPending
}

// CancelPowerRequest gives up on a pending switch. The adapter keeps its
// current power state.
func (a *Adapter) CancelPowerRequest() {
	a.needPower = a.powerOn
	a.powerSwitchPending = false
}

// AddPowerHandler registers fn for power state changes.
func (a *Adapter) AddPowerHandler(fn PowerFunc) uint64 {
	if fn == nil {
		return 0
	}
	return a.subs.Add(topicPower, handler{power: fn})
}

// AddDeathHandler registers fn to be called when the HAL process dies.
func (a *Adapter) AddDeathHandler(fn func()) uint64 {
	if fn == nil {
		return 0
	}
	if a.deathID == 0 && !a.released {
		a.deathID = a.t.AddDeathHandler(a.handleDeath)
	}
	return a.subs.Add(topicDeath, handler{death: fn})
}

func (a *Adapter) RemoveHandler(id uint64) {
	a.subs.Remove(id)
}

// CurrentStateChanged implements nci.StateListener.
func (a *Adapter) CurrentStateChanged() {
	a.stateCheck()
}

// NextStateChanged implements nci.StateListener.
func (a *Adapter) NextStateChanged() {
	a.stateCheck()
}

// Release cancels outstanding calls and detaches from the transport.
func (a *Adapter) Release() {
	if a.released {
		return
	}
	a.released = true
	if a.writeID != 0 {
		a.t.Cancel(a.writeID)
		a.writeID = 0
	}
	if a.pendingTx != 0 {
		a.t.Cancel(a.pendingTx)
		a.pendingTx = 0
	}
	a.openSlot = actionNone
	a.closeSlot = actionNone
	a.t.RemoveHandler(a.eventID)
	a.t.RemoveHandler(a.dataID)
	if a.deathID != 0 {
		a.t.RemoveHandler(a.deathID)
	}
	a.eventID, a.dataID, a.deathID = 0, 0, 0
	a.subs.Clear()
	a.client = nil
}

func (a *Adapter) handleEvent(ev transport.Event) {
	var act action
	switch ev {
	case transport.EventOpenComplete:
		act, a.openSlot = a.openSlot, actionNone
	case transport.EventCloseComplete:
		act, a.closeSlot = a.closeSlot, actionNone
	}
	a.fire(act)
}

func (a *Adapter) handleDeath() {
	a.log.Warn().Msg("HAL died")
	a.subs.Each(topicDeath, func(h handler) { h.death() })
}

func (a *Adapter) setPower(on bool) {
	if a.powerSwitchPending {
		a.powerSwitchPending = false
		a.powerOn = on
		if on {
			a.core.Restart()
		}
		a.notifyPower(on, true)
	} else if a.powerOn != on {
		a.powerOn = on
		if on {
			a.core.Restart()
		}
		a.notifyPower(on, false)
	}
}

func (a *Adapter) notifyPower(on, requested bool) {
	a.log.Info().Bool("on", on).Bool("requested", requested).Msg("Power changed")
	metrics.RecordPowerChange(on, requested)
	a.subs.Each(topicPower, func(h handler) { h.power(on, requested) })
}

func (a *Adapter) canClose() bool {
	return a.core.CurrentState() <= nci.StateIdle
}

func (a *Adapter) open() bool {
	a.log.Debug().Msg("Opening adapter")
	a.coreInitialized = false
	a.openSlot = actionOpenThenPowerOn
	a.pendingTx = a.t.Open(a.openComplete, nil)
	if a.pendingTx == 0 {
		a.log.Warn().Msg("Failed to submit open")
		a.openSlot = actionNone
		return false
	}
	return true
}

func (a *Adapter) openDone() {
	a.log.Debug().Msg("Power on")
	a.setPower(true)
}

func (a *Adapter) openComplete(ok bool) {
	a.pendingTx = 0
	if a.needPower {
		if !ok {
			a.log.Warn().Msg("Power on error")
			a.openSlot = actionNone
			a.setPower(false)
		} else if a.openSlot != actionNone {
			a.log.Debug().Msg("Waiting for OPEN_CPLT")
		} else {
			a.openDone()
		}
		return
	}

	a.log.Debug().Msg("Power no longer needed")
	if a.openSlot != actionNone {
		a.openSlot = actionCloseAfterOpen
	} else {
		a.close()
	}
}

func (a *Adapter) close() bool {
	if a.core.CurrentState() >= nci.StateIdle {
		// Keep the engine from moving on to discovery while closing
		a.closing = true
		a.core.SetState(nci.StateIdle)
		a.closing = false
	}

	a.log.Debug().Msg("Closing adapter")
	a.closeSlot = actionCloseThenPowerOff
	a.pendingTx = a.t.Close(a.closeComplete, nil)
	if a.pendingTx == 0 {
		a.log.Warn().Msg("Failed to submit close")
		a.closeSlot = actionNone
		return false
	}
	return true
}

func (a *Adapter) closeDone() {
	a.log.Debug().Msg("Power off")
	a.setPower(false)
}

func (a *Adapter) closeComplete(ok bool) {
	a.pendingTx = 0
	// CLOSE_CPLT may never come, and the transport drops the HAL callback
	// once close completes. When it does come, it usually precedes the
	// completion of the close call.
	a.closeSlot = actionNone
	if a.needPower {
		a.log.Debug().Msg("Power needed again, reopening")
		if !a.open() {
			a.setPower(false)
		}
		return
	}

	if !ok {
		a.log.Warn().Msg("Close failed, assuming power is off")
	}
	a.closeDone()
}

// retarget points an armed close slot at the latest power request.
func (a *Adapter) retarget(on bool) {
	switch {
	case on && a.closeSlot == actionCloseThenPowerOff:
		a.closeSlot = actionReopenAfterClose
	case !on && a.closeSlot == actionReopenAfterClose:
		a.closeSlot = actionCloseThenPowerOff
	}
}

func (a *Adapter) powerCheck() {
	if a.powerOn && !a.needPower && a.pendingTx == 0 && a.canClose() {
		a.close()
	}
}

func (a *Adapter) nciCheck() {
	if !a.powerOn || !a.needPower || a.pendingTx != 0 {
		return
	}
	if a.core.CurrentState() != nci.StateIdle || a.core.NextState() != nci.StateIdle {
		return
	}
	if !a.coreInitialized {
		a.coreInitialized = true
		a.pendingTx = a.t.CoreInitialized(a.coreInitializedComplete, nil)
	} else {
		// Covers a spontaneous return to idle as well
		a.pendingTx = a.t.Prediscover(a.prediscoverComplete, nil)
	}
}

func (a *Adapter) stateCheck() {
	if a.closing || a.released {
		return
	}
	a.nciCheck()
	a.powerCheck()
}

func (a *Adapter) coreInitializedComplete(ok bool) {
	a.log.Debug().Bool("ok", ok).Msg("CORE_INITIALIZED done")
	a.pendingTx = 0
	a.stateCheck()
}

func (a *Adapter) prediscoverComplete(ok bool) {
	a.log.Debug().Bool("ok", ok).Msg("PREDISCOVER done")
	a.pendingTx = 0
	a.core.SetState(nci.StateDiscovery)
	a.stateCheck()
}
