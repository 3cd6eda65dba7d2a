package transport

import (
	"errors"
	"fmt"

	"github.com/librescoot/nfc-binder/ipc"
)

// Error codes
const (
	// Dispatch error codes
	ErrCodeDispatch = -0x100

	// Remote error codes (0x200 range)
	ErrCodeRemoteStatus = -0x201
	ErrCodeRemoteResult = -0x202

	// Protocol error codes (0x300 range)
	ErrCodeMalformedReply = -0x301
	ErrCodeMalformedPush  = -0x302
	ErrCodeUnknownCode    = -0x303
	ErrCodeBadInterface   = -0x304

	// Peer error codes (0x400 range)
	ErrCodePeerDeath = -0x401
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("transport: unknown backend")

// Error is the base interface for all transport errors
type Error interface {
	error
	IsTransportError() bool
	Code() int
}

// DispatchError means the request never reached the remote
type DispatchError interface {
	Error
	IsDispatchError() bool
}

// RemoteError means the remote replied with a failure
type RemoteError interface {
	Error
	IsRemoteError() bool
	Status() ipc.Status
	Result() int32
}

// ProtocolError means a reply or push did not have the expected shape
type ProtocolError interface {
	Error
	IsProtocolError() bool
}

// PeerDeathError means the remote process went away
type PeerDeathError interface {
	Error
	IsPeerDeathError() bool
}

type baseError struct {
	code    int
	message string
}

func (e *baseError) Error() string {
	return e.message
}

func (e *baseError) Code() int {
	return e.code
}

func (e *baseError) IsTransportError() bool {
	return true
}

type dispatchError struct {
	baseError
	op Op
}

func (e *dispatchError) IsDispatchError() bool {
	return true
}

func NewDispatchError(op Op) error {
	return &dispatchError{
		baseError: baseError{code: ErrCodeDispatch, message: fmt.Sprintf("%s: dispatch failed", op)},
		op:        op,
	}
}

type remoteError struct {
	baseError
	status ipc.Status
	result int32
}

func (e *remoteError) IsRemoteError() bool {
	return true
}

func (e *remoteError) Status() ipc.Status {
	return e.status
}

func (e *remoteError) Result() int32 {
	return e.result
}

// NewRemoteError builds the error for a reply that is not OK/0.
func NewRemoteError(op Op, status ipc.Status, result int32) error {
	code := ErrCodeRemoteResult
	msg := fmt.Sprintf("%s: remote returned %d", op, result)
	if status != ipc.StatusOK {
		code = ErrCodeRemoteStatus
		msg = fmt.Sprintf("%s: transaction failed: %s", op, status)
	}
	return &remoteError{
		baseError: baseError{code: code, message: msg},
		status:    status,
		result:    result,
	}
}

type protocolError struct {
	baseError
	cause error
}

func (e *protocolError) IsProtocolError() bool {
	return true
}

func (e *protocolError) Unwrap() error {
	return e.cause
}

func NewMalformedReplyError(op Op, cause error) error {
	return &protocolError{
		baseError: baseError{code: ErrCodeMalformedReply, message: fmt.Sprintf("%s: malformed reply", op)},
		cause:     cause,
	}
}

func NewMalformedPushError(message string, cause error) error {
	return &protocolError{
		baseError: baseError{code: ErrCodeMalformedPush, message: message},
		cause:     cause,
	}
}

func NewUnknownCodeError(code uint32) error {
	return &protocolError{
		baseError: baseError{code: ErrCodeUnknownCode, message: fmt.Sprintf("unknown callback code %d", code)},
	}
}

func NewBadInterfaceError(iface string) error {
	return &protocolError{
		baseError: baseError{code: ErrCodeBadInterface, message: fmt.Sprintf("unexpected interface %q", iface)},
	}
}

type peerDeathError struct {
	baseError
}

func (e *peerDeathError) IsPeerDeathError() bool {
	return true
}

func NewPeerDeathError(backend string) error {
	return &peerDeathError{
		baseError: baseError{code: ErrCodePeerDeath, message: fmt.Sprintf("%s: remote service died", backend)},
	}
}

// Helper functions for error type checking

// IsDispatchError checks if the request never left this process
func IsDispatchError(err error) bool {
	var e DispatchError
	return errors.As(err, &e) && e.IsDispatchError()
}

// IsRemoteError checks if the remote rejected the call
func IsRemoteError(err error) bool {
	var e RemoteError
	return errors.As(err, &e) && e.IsRemoteError()
}

// IsProtocolError checks if a payload failed to parse
func IsProtocolError(err error) bool {
	var e ProtocolError
	return errors.As(err, &e) && e.IsProtocolError()
}

// IsPeerDeathError checks if the remote process is gone
func IsPeerDeathError(err error) bool {
	var e PeerDeathError
	return errors.As(err, &e) && e.IsPeerDeathError()
}
