package wire

import (
	"encoding/binary"
)

// maxFieldLength bounds a single length-prefixed field, protecting the
// decoder against hostile lengths before any allocation.
const maxFieldLength = MaxFrameSize

// Encoder builds a message payload field by field.
type Encoder struct {
	buf []byte
}

// NewEncoder starts a payload with the given opcode.
func NewEncoder(op Opcode) *Encoder {
	e := &Encoder{buf: make([]byte, 0, 64)}
	e.Uint16(uint16(op))
	return e
}

// Bytes returns the assembled payload.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Uint8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) Uint16(v uint16) *Encoder {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
	return e
}

func (e *Encoder) Uint32(v uint32) *Encoder {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
	return e
}

func (e *Encoder) Uint64(v uint64) *Encoder {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
	return e
}

func (e *Encoder) Int64(v int64) *Encoder {
	return e.Uint64(uint64(v))
}

func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.Uint8(1)
	}
	return e.Uint8(0)
}

// Blob appends a uint32 length prefix followed by the raw bytes.
func (e *Encoder) Blob(b []byte) *Encoder {
	e.Uint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

func (e *Encoder) String(s string) *Encoder {
	return e.Blob([]byte(s))
}

// Decoder consumes a message payload field by field. Every method
// returns ErrTruncated when the payload runs out, so a handler can
// early-return on the first malformed field without partial state.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder wraps a payload. The opcode is read separately with
// Opcode before field decoding starts.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload}
}

// Remaining returns the number of unconsumed bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Opcode reads the leading opcode.
func (d *Decoder) Opcode() (Opcode, error) {
	v, err := d.Uint16()
	return Opcode(v), err
}

func (d *Decoder) Uint8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) Uint16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) Uint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *Decoder) Int64() (int64, error) {
	v, err := d.Uint64()
	return int64(v), err
}

func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint8()
	return v != 0, err
}

// Blob reads a uint32 length prefix and that many bytes. The returned
// slice aliases the payload buffer.
func (d *Decoder) Blob() ([]byte, error) {
	length, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if length > maxFieldLength {
		return nil, ErrTruncated
	}
	return d.take(int(length))
}

func (d *Decoder) String() (string, error) {
	b, err := d.Blob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
