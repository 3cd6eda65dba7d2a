// Package ipc implements the inter-process call channel used to reach the
// NFC hardware service.
//
// A Conn carries transactions over one AF_UNIX SOCK_SEQPACKET socket. Calls
// are asynchronous: Transact returns immediately with a call id and the
// reply callback fires later on the Loop goroutine. The remote side may
// also call back into objects created locally with NewLocalObject; those
// inbound transactions are dispatched on the same Loop goroutine, so no
// locking is needed in code that only runs from callbacks.
package ipc

import (
	"errors"
	"fmt"
)

// Status is the transport-level result of a transaction.
type Status int32

const (
	StatusOK         Status = 0
	StatusFailed     Status = -1
	StatusDeadObject Status = -32
	StatusBadParcel  Status = -74
)

// String returns a string representation of the status
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFailed:
		return "FAILED"
	case StatusDeadObject:
		return "DEAD_OBJECT"
	case StatusBadParcel:
		return "BAD_PARCEL"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}

var (
	ErrTruncated    = errors.New("ipc: truncated parcel")
	ErrBadFrame     = errors.New("ipc: malformed frame")
	ErrFrameTooBig  = errors.New("ipc: frame too large")
	ErrDeadObject   = errors.New("ipc: remote object is dead")
	ErrLoopStopped  = errors.New("ipc: loop stopped")
	ErrUnknownKind  = errors.New("ipc: unknown frame kind")
	ErrBadObjectTag = errors.New("ipc: bad object reference")
)

// ReplyFunc receives the reply to a transaction. reply is nil when the
// transaction failed before a reply payload was available.
type ReplyFunc func(reply *Reader, status Status)

// Client issues transactions against one interface of a remote service.
type Client interface {
	// Interface returns the interface token sent with every transaction.
	Interface() string

	// Transact submits code with the optional request payload. It returns a
	// non-zero call id on successful dispatch or 0 if the request could not
	// be submitted, in which case neither done nor destroy is invoked.
	// Otherwise done is invoked at most once and destroy exactly once,
	// after done or when the call is cancelled.
	Transact(code uint32, req *Parcel, done ReplyFunc, destroy func()) uint64

	// Cancel drops an outstanding call. Its destroy function still runs,
	// its reply function never does. Unknown ids are ignored.
	Cancel(id uint64)
}

// Request is an inbound transaction addressed to a local object.
type Request struct {
	Interface string
	Code      uint32
	Oneway    bool
	Reader    *Reader
}

// Handler processes an inbound request and returns its status.
type Handler func(req *Request) Status

// LocalObject is an object hosted by this process that the remote side
// can call into once a reference has been passed to it.
type LocalObject interface {
	Handle() uint32
	Interface() string

	// Drop detaches the handler. Requests arriving afterwards fail with
	// StatusDeadObject.
	Drop()
}

// Remote is the remote service endpoint.
type Remote interface {
	// NewClient returns a client bound to iface.
	NewClient(iface string) Client

	// NewLocalObject creates an object the remote may call into.
	NewLocalObject(iface string, handler Handler) LocalObject

	// AddDeathHandler registers fn to be called once the remote dies.
	AddDeathHandler(fn func()) uint64

	// RemoveHandler removes a death handler.
	RemoveHandler(id uint64)

	// IsDead reports whether the remote is known to be gone.
	IsDead() bool
}
