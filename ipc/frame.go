package ipc

import (
	"encoding/binary"
	"fmt"
)

const (
	FixedHeaderLen = 24
	MaxFrameSize   = 64 * 1024

	FlagOneway uint8 = 0x01
)

// FrameKind distinguishes requests from replies on the wire.
type FrameKind uint8

const (
	KindTransaction FrameKind = 1
	KindReply       FrameKind = 2
)

// Header is the fixed part of every frame.
type Header struct {
	Kind   FrameKind
	Flags  uint8
	Target uint32 // 0 = remote service, otherwise a local object handle
	Code   uint32
	Status Status
	ID     uint64
}

// Frame is one datagram.
type Frame struct {
	Header    Header
	Interface string
	Payload   []byte
}

// EncodeFrame serializes f into a single datagram.
func EncodeFrame(f Frame) ([]byte, error) {
	size := FixedHeaderLen + 2 + len(f.Interface) + len(f.Payload)
	if size > MaxFrameSize {
		return nil, ErrFrameTooBig
	}
	if len(f.Interface) > 0xffff {
		return nil, ErrBadFrame
	}
	buf := make([]byte, size)
	buf[0] = byte(f.Header.Kind)
	buf[1] = f.Header.Flags
	binary.LittleEndian.PutUint32(buf[4:8], f.Header.Target)
	binary.LittleEndian.PutUint32(buf[8:12], f.Header.Code)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(f.Header.Status))
	binary.LittleEndian.PutUint64(buf[16:24], f.Header.ID)
	binary.LittleEndian.PutUint16(buf[24:26], uint16(len(f.Interface)))
	n := copy(buf[26:], f.Interface)
	copy(buf[26+n:], f.Payload)
	return buf, nil
}

// DecodeFrame parses one datagram. The returned payload is a copy.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < FixedHeaderLen+2 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(b))
	}
	if len(b) > MaxFrameSize {
		return Frame{}, ErrFrameTooBig
	}
	h := Header{
		Kind:   FrameKind(b[0]),
		Flags:  b[1],
		Target: binary.LittleEndian.Uint32(b[4:8]),
		Code:   binary.LittleEndian.Uint32(b[8:12]),
		Status: Status(int32(binary.LittleEndian.Uint32(b[12:16]))),
		ID:     binary.LittleEndian.Uint64(b[16:24]),
	}
	if h.Kind != KindTransaction && h.Kind != KindReply {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownKind, h.Kind)
	}
	ifaceLen := int(binary.LittleEndian.Uint16(b[24:26]))
	rest := b[26:]
	if len(rest) < ifaceLen {
		return Frame{}, fmt.Errorf("%w: interface token truncated", ErrBadFrame)
	}
	payload := make([]byte, len(rest)-ifaceLen)
	copy(payload, rest[ifaceLen:])
	return Frame{
		Header:    h,
		Interface: string(rest[:ifaceLen]),
		Payload:   payload,
	}, nil
}
