package nci

import (
	"github.com/rs/zerolog"
)

const tagEventBuffer = 10

// Engine is a minimal NCI state machine. It keeps one command in flight,
// reports its RF state to a StateListener and turns activation and
// deactivation notifications into tag events. All methods must be called
// from the goroutine that delivers HalIO callbacks.
type Engine struct {
	log      zerolog.Logger
	io       HalIO
	listener StateListener

	current State
	next    State
	started bool

	queue    []pending
	inflight *pending
	writing  bool

	present *Tag
	tags    chan TagEvent
}

type pending struct {
	cmd  command
	resp func(p *packet)
}

// NewEngine creates an engine in the Init state.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log:     log.With().Str("component", "nci").Logger(),
		current: StateInit,
		next:    StateInit,
		tags:    make(chan TagEvent, tagEventBuffer),
	}
}

// Attach connects the engine to its byte pipe and state listener.
func (e *Engine) Attach(io HalIO, listener StateListener) {
	e.io = io
	e.listener = listener
}

func (e *Engine) CurrentState() State {
	return e.current
}

func (e *Engine) NextState() State {
	return e.next
}

// Tags returns the channel receiving tag events
func (e *Engine) Tags() <-chan TagEvent {
	return e.tags
}

// Restart resets the controller and brings it to Idle.
func (e *Engine) Restart() {
	if e.io == nil {
		return
	}
	if !e.started {
		if !e.io.Start(e) {
			e.log.Error().Msg("Failed to start HAL I/O")
			e.enterError()
			return
		}
		e.started = true
	}
	e.abort()
	e.log.Info().Msg("Restarting NCI core")

	e.setNext(StateIdle)
	e.setCurrent(StateInit)
	e.send(coreResetCmd(), func(p *packet) {
		if p.Status != statusOK {
			e.log.Error().Uint8("status", p.Status).Msg("CORE_RESET failed")
			e.enterError()
			return
		}
		e.send(coreInitCmd(), func(p *packet) {
			if p.Status != statusOK {
				e.log.Error().Uint8("status", p.Status).Msg("CORE_INIT failed")
				e.enterError()
				return
			}
			e.log.Info().Msg("NCI core initialized")
			e.setCurrent(StateIdle)
		})
	})
}

// SetState requests a transition to state.
func (e *Engine) SetState(state State) {
	switch state {
	case StateIdle:
		e.toIdle()
	case StateDiscovery:
		e.toDiscovery()
	default:
		e.log.Warn().Stringer("state", state).Msg("Unsupported state request")
	}
}

// Stop detaches from the HAL I/O.
func (e *Engine) Stop() {
	e.abort()
	if e.started {
		e.io.Stop()
		e.started = false
	}
	e.setNext(StateStop)
	e.setCurrent(StateStop)
}

func (e *Engine) toIdle() {
	switch {
	case e.current < StateIdle:
		if e.next == StateIdle && e.inflight != nil {
			return
		}
		e.Restart()
	case e.current == StateIdle:
		e.setNext(StateIdle)
	default:
		if e.next == StateIdle {
			return
		}
		e.setNext(StateIdle)
		e.send(rfDeactivateCmd(deactivateIdle), func(p *packet) {
			if p.Status != statusOK {
				e.log.Warn().Uint8("status", p.Status).Msg("RF_DEACTIVATE failed")
			}
			e.departed()
			e.setCurrent(StateIdle)
		})
	}
}

func (e *Engine) toDiscovery() {
	if e.current != StateIdle {
		e.log.Debug().Stringer("current", e.current).Msg("Not idle, discovery deferred")
		return
	}
	e.setNext(StateDiscovery)
	e.send(rfDiscoverMapCmd(), func(p *packet) {
		if p.Status != statusOK {
			e.log.Error().Uint8("status", p.Status).Msg("RF_DISCOVER_MAP failed")
			e.setNext(StateIdle)
			return
		}
		e.send(rfDiscoverCmd(), func(p *packet) {
			if p.Status != statusOK {
				e.log.Error().Uint8("status", p.Status).Msg("RF_DISCOVER failed")
				e.setNext(StateIdle)
				return
			}
			e.setCurrent(StateDiscovery)
		})
	})
}

// Read implements HalClient.
func (e *Engine) Read(data []byte) {
	p, err := parsePacket(data)
	if err != nil {
		e.log.Warn().Err(err).Hex("data", data).Msg("Dropping NCI packet")
		return
	}

	switch p.MT {
	case msgTypeResponse:
		e.handleResponse(p)
	case msgTypeNotification:
		e.handleNotification(p)
	default:
		e.log.Debug().Int("len", len(p.Payload)).Msg("Ignoring data packet")
	}
}

func (e *Engine) handleResponse(p *packet) {
	inflight := e.inflight
	if inflight == nil || inflight.cmd.gid != p.GID || inflight.cmd.oid != p.OID {
		e.log.Warn().Uint8("gid", p.GID).Uint8("oid", p.OID).Msg("Unexpected response")
		return
	}
	e.inflight = nil
	inflight.resp(p)
	e.flush()
}

func (e *Engine) handleNotification(p *packet) {
	switch {
	case p.GID == groupRF && p.OID == rfIntfActivatedOID:
		tag, err := parseRFIntfActivatedNtf(p.Payload)
		if err != nil {
			e.log.Warn().Err(err).Msg("Ignoring activation")
			return
		}
		e.present = tag
		e.emit(TagEvent{Type: TagArrival, Tag: tag})
		e.setNext(StatePollActive)
		e.setCurrent(StatePollActive)
	case p.GID == groupRF && p.OID == rfDeactivateOID:
		kind := deactivateIdle
		if len(p.Payload) > 0 {
			kind = p.Payload[0]
		}
		e.departed()
		state := StateDiscovery
		if kind == deactivateIdle {
			state = StateIdle
		}
		e.setNext(state)
		e.setCurrent(state)
	case p.GID == groupCore && (p.OID == coreGenericError || p.OID == coreInterfaceError):
		e.log.Warn().Hex("payload", p.Payload).Msg("Controller reported an error")
	default:
		e.log.Debug().Uint8("gid", p.GID).Uint8("oid", p.OID).Msg("Notification")
	}
}

func (e *Engine) departed() {
	if e.present == nil {
		return
	}
	tag := e.present
	e.present = nil
	e.emit(TagEvent{Type: TagDeparture, Tag: tag})
}

func (e *Engine) emit(ev TagEvent) {
	select {
	case e.tags <- ev:
		e.log.Debug().Stringer("type", ev.Type).Hex("id", ev.Tag.ID).Msg("Tag event")
	default:
		e.log.Warn().Msg("Tag event channel full, dropping event")
	}
}

func (e *Engine) send(cmd command, resp func(p *packet)) {
	e.queue = append(e.queue, pending{cmd: cmd, resp: resp})
	e.flush()
}

func (e *Engine) flush() {
	if e.inflight != nil || e.writing || len(e.queue) == 0 || !e.started {
		return
	}
	next := e.queue[0]
	e.queue = e.queue[1:]
	e.inflight = &next
	e.writing = true

	e.log.Debug().Stringer("cmd", next.cmd).Msg("Sending command")
	ok := e.io.Write(next.cmd.chunks(), func(ok bool) {
		e.writing = false
		if !ok {
			e.log.Error().Stringer("cmd", next.cmd).Msg("Write failed")
			e.abort()
			e.enterError()
			return
		}
		e.flush()
	})
	if !ok {
		e.writing = false
		e.log.Error().Stringer("cmd", next.cmd).Msg("Write not submitted")
		e.abort()
		e.enterError()
	}
}

// abort drops queued and in-flight commands.
func (e *Engine) abort() {
	if e.writing {
		e.io.CancelWrite()
		e.writing = false
	}
	e.inflight = nil
	e.queue = nil
}

func (e *Engine) enterError() {
	e.departed()
	e.setNext(StateError)
	e.setCurrent(StateError)
}

func (e *Engine) setCurrent(s State) {
	if e.current == s {
		return
	}
	e.log.Debug().Stringer("from", e.current).Stringer("to", s).Msg("Current state")
	e.current = s
	if e.listener != nil {
		e.listener.CurrentStateChanged()
	}
}

func (e *Engine) setNext(s State) {
	if e.next == s {
		return
	}
	e.log.Debug().Stringer("from", e.next).Stringer("to", s).Msg("Next state")
	e.next = s
	if e.listener != nil {
		e.listener.NextStateChanged()
	}
}
