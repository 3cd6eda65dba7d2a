package ipc

import (
	"encoding/binary"
)

const (
	objectTag uint32 = 0x73622a85 // "sb*" + 0x85

	byteArrayAlign = 4
	paddedVecAlign = 8
)

// Parcel accumulates a transaction payload. The zero value is ready to use.
type Parcel struct {
	buf []byte
}

// NewParcel returns an empty parcel.
func NewParcel() *Parcel {
	return &Parcel{}
}

// Bytes returns the encoded payload.
func (p *Parcel) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.buf
}

// Len returns the encoded size.
func (p *Parcel) Len() int {
	if p == nil {
		return 0
	}
	return len(p.buf)
}

func (p *Parcel) AppendInt32(v int32) *Parcel {
	return p.AppendUint32(uint32(v))
}

func (p *Parcel) AppendUint32(v uint32) *Parcel {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
	return p
}

func (p *Parcel) AppendUint64(v uint64) *Parcel {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
	return p
}

// AppendByteArray writes an int32 length followed by the bytes, padded to
// four bytes. A nil slice is written as length -1.
func (p *Parcel) AppendByteArray(data []byte) *Parcel {
	if data == nil {
		return p.AppendInt32(-1)
	}
	p.AppendInt32(int32(len(data)))
	p.buf = append(p.buf, data...)
	p.pad(len(data), byteArrayAlign)
	return p
}

// AppendPaddedVec writes a uint64 element count followed by the bytes,
// padded to eight bytes.
func (p *Parcel) AppendPaddedVec(data []byte) *Parcel {
	p.AppendUint64(uint64(len(data)))
	p.buf = append(p.buf, data...)
	p.pad(len(data), paddedVecAlign)
	return p
}

// AppendObject writes a reference to a local object.
func (p *Parcel) AppendObject(obj LocalObject) *Parcel {
	p.AppendUint32(objectTag)
	return p.AppendUint32(obj.Handle())
}

func (p *Parcel) pad(n, align int) {
	if rem := n % align; rem != 0 {
		p.buf = append(p.buf, make([]byte, align-rem)...)
	}
}

// Reader decodes a payload produced by Parcel.
type Reader struct {
	data []byte
	pos  int
}

// NewReader returns a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// AtEnd reports whether the whole payload has been consumed.
func (r *Reader) AtEnd() bool {
	return r.pos >= len(r.data)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadByteArray reads a value written by AppendByteArray. A null array is
// returned as nil without error.
func (r *Reader) ReadByteArray() ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		if n != -1 {
			return nil, ErrTruncated
		}
		return nil, nil
	}
	return r.readPadded(int(n), byteArrayAlign)
}

// ReadPaddedVec reads a value written by AppendPaddedVec.
func (r *Reader) ReadPaddedVec() ([]byte, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, ErrTruncated
	}
	return r.readPadded(int(n), paddedVecAlign)
}

// ReadObject reads an object reference and returns its handle.
func (r *Reader) ReadObject() (uint32, error) {
	tag, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	if tag != objectTag {
		return 0, ErrBadObjectTag
	}
	return r.ReadUint32()
}

func (r *Reader) readPadded(n, align int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	if rem := n % align; rem != 0 {
		if _, err := r.take(align - rem); err != nil {
			return nil, err
		}
	}
	// Copy so that callers never alias the receive buffer
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
