package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned by every decode routine in this package for any
// input that is too short, has an inconsistent length prefix, or otherwise
// does not parse. Per §7, the handler treats ErrMalformed as "drop
// silently" — never inspect its message to decide behavior, just check the
// sentinel.
var ErrMalformed = errors.New("wire: malformed packet")

// Writer accumulates a frame with chainable little-endian writes. Strings
// are always 16-bit-length-prefixed UTF-8 (per §4.2); use WriteUUID for the
// one big-endian exception.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

func (w *Writer) WriteByte(b byte) *Writer {
	w.buf.WriteByte(b)
	return w
}

func (w *Writer) WriteBytes(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

func (w *Writer) WriteUint16(v uint16) *Writer {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf.Write(tmp[:])
	return w
}

func (w *Writer) WriteUint32(v uint32) *Writer {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf.Write(tmp[:])
	return w
}

func (w *Writer) WriteInt32(v int32) *Writer {
	return w.WriteUint32(uint32(v))
}

func (w *Writer) WriteInt64(v int64) *Writer {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	w.buf.Write(tmp[:])
	return w
}

// WriteString writes a 16-bit little-endian length prefix followed by the
// UTF-8 bytes of s.
func (w *Writer) WriteString(s string) *Writer {
	w.WriteUint16(uint16(len(s)))
	w.buf.WriteString(s)
	return w
}

// WriteUUID writes a 128-bit UUID as big-endian MSB then big-endian LSB,
// the one field in the whole wire format that is not little-endian.
func (w *Writer) WriteUUID(u UUID) *Writer {
	var tmp [16]byte
	binary.BigEndian.PutUint64(tmp[0:8], u.MSB)
	binary.BigEndian.PutUint64(tmp[8:16], u.LSB)
	w.buf.Write(tmp[:])
	return w
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// Bytes returns the accumulated frame.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// UUID is a 128-bit identifier serialized as two big-endian uint64s.
type UUID struct {
	MSB uint64
	LSB uint64
}

// Reader consumes a frame with little-endian reads and returns
// ErrMalformed (never a decode-specific error) the instant it runs out of
// bytes, so callers can propagate it straight to "drop silently".
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrMalformed
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadFixed reads exactly n bytes into a new fixed-size array-backed slice,
// used for magics and HMACs where the caller wants a copy independent of
// the underlying datagram buffer.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	b, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, n)
	copy(cp, b)
	return cp, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// ReadString reads a 16-bit length prefix followed by that many UTF-8
// bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadUUID reads a big-endian MSB then big-endian LSB 128-bit UUID.
func (r *Reader) ReadUUID() (UUID, error) {
	b, err := r.ReadBytes(16)
	if err != nil {
		return UUID{}, err
	}
	return UUID{
		MSB: binary.BigEndian.Uint64(b[0:8]),
		LSB: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// ReadMagic reads the fixed 8-byte magic prefix.
func (r *Reader) ReadMagic() ([MagicLen]byte, error) {
	var m [MagicLen]byte
	b, err := r.ReadBytes(MagicLen)
	if err != nil {
		return m, err
	}
	copy(m[:], b)
	return m, nil
}

// PeekMagic reads the first 8 bytes of b without consuming, for use by the
// demultiplexer ahead of any other parsing. Returns ErrMalformed if b is
// shorter than 8 bytes.
func PeekMagic(b []byte) ([MagicLen]byte, error) {
	var m [MagicLen]byte
	if len(b) < MagicLen {
		return m, ErrMalformed
	}
	copy(m[:], b[:MagicLen])
	return m, nil
}

// requireMagic is a small helper shared by the per-format decoders: read
// the magic and confirm it matches want exactly.
func requireMagic(r *Reader, want [MagicLen]byte) error {
	got, err := r.ReadMagic()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected magic %q, got %q", ErrMalformed, want, got)
	}
	return nil
}
