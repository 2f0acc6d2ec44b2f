package traci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a response ends before a value is complete.
var ErrShortBuffer = errors.New("traci: short buffer")

// Storage accumulates a big-endian command payload.
type Storage struct {
	buf []byte
}

// Bytes returns the encoded payload.
func (s *Storage) Bytes() []byte {
	return s.buf
}

// Len returns the number of encoded bytes.
func (s *Storage) Len() int {
	return len(s.buf)
}

func (s *Storage) WriteUint8(v uint8) {
	s.buf = append(s.buf, v)
}

func (s *Storage) WriteInt8(v int8) {
	s.buf = append(s.buf, byte(v))
}

func (s *Storage) WriteInt32(v int32) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, uint32(v))
}

func (s *Storage) WriteDouble(v float64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, math.Float64bits(v))
}

// WriteString writes an int32 length followed by the raw bytes.
func (s *Storage) WriteString(v string) {
	s.WriteInt32(int32(len(v)))
	s.buf = append(s.buf, v...)
}

// WriteStringList writes an int32 count followed by each string.
func (s *Storage) WriteStringList(v []string) {
	s.WriteInt32(int32(len(v)))
	for _, item := range v {
		s.WriteString(item)
	}
}

func (s *Storage) WriteTypedUint8(v uint8) {
	s.WriteUint8(TypeUbyte)
	s.WriteUint8(v)
}

func (s *Storage) WriteTypedInt8(v int8) {
	s.WriteUint8(TypeByte)
	s.WriteInt8(v)
}

func (s *Storage) WriteTypedInt32(v int32) {
	s.WriteUint8(TypeInteger)
	s.WriteInt32(v)
}

func (s *Storage) WriteTypedDouble(v float64) {
	s.WriteUint8(TypeDouble)
	s.WriteDouble(v)
}

func (s *Storage) WriteTypedString(v string) {
	s.WriteUint8(TypeString)
	s.WriteString(v)
}

func (s *Storage) WriteTypedStringList(v []string) {
	s.WriteUint8(TypeStringList)
	s.WriteStringList(v)
}

// WriteCompound writes the compound header for n following typed items.
func (s *Storage) WriteCompound(n int32) {
	s.WriteUint8(TypeCompound)
	s.WriteInt32(n)
}

func (s *Storage) WriteColor(c Color) {
	s.WriteUint8(TypeColor)
	s.buf = append(s.buf, c.R, c.G, c.B, c.A)
}

// Color is an RGBA vehicle color.
type Color struct {
	R, G, B, A uint8
}

// Reader decodes values from a response body.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadStringList() ([]string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("traci: negative list length %d", n)
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadLength reads a command length: one byte, or a zero byte followed by
// an int32 for commands longer than 255 bytes. The returned value excludes
// the length field itself.
func (r *Reader) ReadLength() (int, error) {
	short, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}
	if short != 0 {
		return int(short) - 1, nil
	}
	long, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	return int(long) - 5, nil
}

// ExpectType consumes a type tag and fails if it differs from want.
func (r *Reader) ExpectType(want uint8) error {
	got, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("traci: expected type 0x%02x, got 0x%02x", want, got)
	}
	return nil
}

func (r *Reader) ReadTypedInt32() (int32, error) {
	if err := r.ExpectType(TypeInteger); err != nil {
		return 0, err
	}
	return r.ReadInt32()
}

func (r *Reader) ReadTypedDouble() (float64, error) {
	if err := r.ExpectType(TypeDouble); err != nil {
		return 0, err
	}
	return r.ReadDouble()
}

func (r *Reader) ReadTypedString() (string, error) {
	if err := r.ExpectType(TypeString); err != nil {
		return "", err
	}
	return r.ReadString()
}

func (r *Reader) ReadTypedStringList() ([]string, error) {
	if err := r.ExpectType(TypeStringList); err != nil {
		return nil, err
	}
	return r.ReadStringList()
}

// ReadCompound consumes a compound header and returns its item count.
func (r *Reader) ReadCompound() (int32, error) {
	if err := r.ExpectType(TypeCompound); err != nil {
		return 0, err
	}
	return r.ReadInt32()
}

// frameCommand prefixes a command id and its content with the command length.
func frameCommand(id uint8, content []byte) []byte {
	n := 1 + 1 + len(content)
	var out Storage
	if n <= 255 {
		out.WriteUint8(uint8(n))
	} else {
		out.WriteUint8(0)
		out.WriteInt32(int32(n + 4))
	}
	out.WriteUint8(id)
	out.buf = append(out.buf, content...)
	return out.buf
}

// frameMessage prefixes framed commands with the int32 message length.
func frameMessage(commands ...[]byte) []byte {
	total := 4
	for _, c := range commands {
		total += len(c)
	}
	var out Storage
	out.WriteInt32(int32(total))
	for _, c := range commands {
		out.buf = append(out.buf, c...)
	}
	return out.buf
}
