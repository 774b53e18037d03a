// Package wire implements the Codec spec.md §2/§6 describes as an
// external collaborator: a byte-level framing and message codec for the
// three SoulSeek channels (server, peer, distributed). Framing style is
// grounded on the teacher's internal/protocol/message.go (length-prefixed
// binary frames satisfying encoding.BinaryMarshaler/Unmarshaler and
// io.WriterTo/ReaderFrom); the SoulSeek wire shape itself — little-endian
// integers, length-prefixed strings, a numeric code per message — is
// carried over from pynicotine's slskmessages module (original_source/).
package wire

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrShortFrame   = errors.New("wire: short frame")
	ErrFrameTooBig  = errors.New("wire: frame exceeds maximum size")
	ErrShortPayload = errors.New("wire: payload shorter than declared field")
	ErrUnknownCode  = errors.New("wire: unknown message code")
)

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const MaxFrameSize = 128 << 20 // 128 MiB, generous for file-list frames

// Channel identifies which of the three SoulSeek wire channels a Frame
// belongs to. Each channel has its own code space and framing width.
type Channel uint8

const (
	ChannelServer Channel = iota
	ChannelPeer
	ChannelDistributed
)

func (c Channel) String() string {
	switch c {
	case ChannelServer:
		return "server"
	case ChannelPeer:
		return "peer"
	case ChannelDistributed:
		return "distributed"
	default:
		return fmt.Sprintf("Channel(%d)", c)
	}
}

// Frame is a decoded wire frame: a code (interpretation depends on
// Channel) plus the raw payload bytes following it. Message implements
// higher-level (un)marshaling on top of a Frame's Payload.
type Frame struct {
	Channel Channel
	Code    uint32
	Payload []byte
}

var (
	_ encoding.BinaryMarshaler   = (*Frame)(nil)
	_ encoding.BinaryUnmarshaler = (*Frame)(nil)
	_ io.WriterTo                = (*Frame)(nil)
)

// codeWidth returns the on-wire width of the code field for a channel:
// server and peer codes are 4 bytes, distributed codes are 1 byte.
func codeWidth(ch Channel) int {
	if ch == ChannelDistributed {
		return 1
	}
	return 4
}

func (f *Frame) MarshalBinary() ([]byte, error) {
	cw := codeWidth(f.Channel)
	length := cw + len(f.Payload)
	if length > MaxFrameSize {
		return nil, ErrFrameTooBig
	}

	buf := make([]byte, 4+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))

	if cw == 1 {
		buf[4] = byte(f.Code)
	} else {
		binary.LittleEndian.PutUint32(buf[4:8], f.Code)
	}
	copy(buf[4+cw:], f.Payload)

	return buf, nil
}

func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	buf, err := f.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// UnmarshalBinary decodes a single frame from b. f.Channel must already
// be set; it determines the code width.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return ErrShortFrame
	}

	length := binary.LittleEndian.Uint32(b[0:4])
	if length > MaxFrameSize {
		return ErrFrameTooBig
	}
	if len(b) < 4+int(length) {
		return ErrShortFrame
	}

	cw := codeWidth(f.Channel)
	if int(length) < cw {
		return ErrShortFrame
	}

	body := b[4 : 4+int(length)]
	if cw == 1 {
		f.Code = uint32(body[0])
	} else {
		f.Code = binary.LittleEndian.Uint32(body[0:4])
	}
	f.Payload = append(f.Payload[:0], body[cw:]...)

	return nil
}

// ReadFrame reads a single frame of the given channel from r.
func ReadFrame(r io.Reader, ch Channel) (*Frame, error) {
	var lp [4]byte
	if _, err := io.ReadFull(r, lp[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(lp[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooBig
	}

	cw := codeWidth(ch)
	if int(length) < cw {
		return nil, ErrShortFrame
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	f := &Frame{Channel: ch}
	if cw == 1 {
		f.Code = uint32(body[0])
	} else {
		f.Code = binary.LittleEndian.Uint32(body[0:4])
	}
	f.Payload = body[cw:]

	return f, nil
}

// WriteFrame writes f to w.
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := f.WriteTo(w)
	return err
}

// Reader wraps a Frame's Payload (or any byte slice) with the primitive
// decoders every SoulSeek message body is built from: little-endian
// fixed-width integers and length-prefixed strings.
type Reader struct {
	buf *bytes.Reader
	err error
}

func NewReader(payload []byte) *Reader {
	return &Reader{buf: bytes.NewReader(payload)}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Uint8() uint8 {
	if r.err != nil {
		return 0
	}
	b, err := r.buf.ReadByte()
	if err != nil {
		r.fail(ErrShortPayload)
		return 0
	}
	return b
}

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Uint32() uint32 {
	if r.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		r.fail(ErrShortPayload)
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Uint64() uint64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		r.fail(ErrShortPayload)
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

// String reads a SoulSeek string: a uint32 byte length followed by that
// many raw (latin1/utf8-ish, treated as opaque) bytes.
func (r *Reader) String() string {
	if r.err != nil {
		return ""
	}
	n := r.Uint32()
	if r.err != nil {
		return ""
	}
	if n > MaxFrameSize {
		r.fail(ErrFrameTooBig)
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.buf, b); err != nil {
		r.fail(ErrShortPayload)
		return ""
	}
	return string(b)
}

// Remaining returns whatever bytes have not yet been consumed.
func (r *Reader) Remaining() []byte {
	if r.err != nil {
		return nil
	}
	rest := make([]byte, r.buf.Len())
	_, _ = r.buf.Read(rest)
	return rest
}

// Writer builds a SoulSeek message body with the same primitive types
// Reader decodes, in write order.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Uint8(v uint8) *Writer {
	w.buf.WriteByte(v)
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Uint8(1)
	}
	return w.Uint8(0)
}

func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return w
}

func (w *Writer) Int32(v int32) *Writer { return w.Uint32(uint32(v)) }

func (w *Writer) Uint64(v uint64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
	return w
}

func (w *Writer) String(s string) *Writer {
	w.Uint32(uint32(len(s)))
	w.buf.WriteString(s)
	return w
}

func (w *Writer) Bytes(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

func (w *Writer) Payload() []byte {
	return append([]byte(nil), w.buf.Bytes()...)
}

// Message is the tagged-union shape every decoded SoulSeek message
// implements: a stable code plus symmetric (de)serialization to/from a
// Frame payload, matching spec.md §9's "tagged-union discriminator with a
// table mapping discriminant to handler" note.
type Message interface {
	Code() uint32
	Marshal() []byte
	Unmarshal(*Reader) error
}

// Encode builds a ready-to-send Frame for a Message on the given channel.
func Encode(ch Channel, m Message) *Frame {
	return &Frame{Channel: ch, Code: m.Code(), Payload: m.Marshal()}
}
