package transport

import (
	"fmt"

	"github.com/librescoot/nfc-binder/ipc"
)

// Op is one of the five uniform operations.
type Op int

const (
	OpOpen Op = iota
	OpClose
	OpCoreInitialized
	OpPrediscover
	OpWrite
)

// String returns a string representation of the operation
func (o Op) String() string {
	switch o {
	case OpOpen:
		return "open"
	case OpClose:
		return "close"
	case OpCoreInitialized:
		return "coreInitialized"
	case OpPrediscover:
		return "prediscover"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// PushKind classifies an inbound callback transaction.
type PushKind int

const (
	PushUnknown PushKind = iota
	PushEvent
	PushData
)

// Codec is the wire encoding of one backend. Everything else about a
// backend is shared by Binding.
type Codec interface {
	Name() string
	ServiceInterface() string
	CallbackInterface() string

	// EncodeRequest builds the request for op. cb is the callback object
	// (open only), data the byte block (write only).
	EncodeRequest(op Op, cb ipc.LocalObject, data []byte) (code uint32, req *ipc.Parcel)

	// ReadBlock decodes a byte block.
	ReadBlock(r *ipc.Reader) ([]byte, error)

	PushKind(code uint32) PushKind

	// Event maps a raw event number. ok is false for events that are not
	// acted upon.
	Event(raw uint32) (ev Event, ok bool)

	// EventName returns the wire name of a raw event for logs.
	EventName(raw uint32) string
}
