package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// HeaderSize is the fixed wire size of a Frame header: Type (u8) + MsgID
// (u16) + PayloadLen (u16), big-endian.
const HeaderSize = 5

// MaxPayloadLen is the largest PayloadLen a u16 field can express.
const MaxPayloadLen = 0xFFFF

// Type identifies the kind of frame carried on the wire.
type Type uint8

// Frame type codes.
const (
	TypeResponse    Type = 0
	TypePing        Type = 6
	TypeLogin       Type = 29
	TypeJSONMessage Type = 30
	TypeRedirect    Type = 41
	TypeBroadcast   Type = 50
)

// String returns a human-readable name for known types, or a numeric
// fallback for unknown ones.
func (t Type) String() string {
	switch t {
	case TypeResponse:
		return "RESPONSE"
	case TypePing:
		return "PING"
	case TypeLogin:
		return "LOGIN"
	case TypeJSONMessage:
		return "JSON_MESSAGE"
	case TypeRedirect:
		return "REDIRECT"
	case TypeBroadcast:
		return "BROADCAST"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Status is the single payload byte carried by a RESPONSE frame.
type Status uint8

// RESPONSE status codes.
const (
	StatusSuccess          Status = 200
	StatusInvalidCommand   Status = 2
	StatusNotAuthenticated Status = 5
	StatusInvalidToken     Status = 9
	StatusTimeout          Status = 16
)

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

var (
	// ErrShortHeader indicates fewer than HeaderSize bytes were available
	// to decode a header.
	ErrShortHeader = errors.New("wire: short header")

	// ErrEOF indicates the peer closed the connection before the
	// requested number of bytes arrived. It is returned both for a clean
	// close before any byte and for a close mid-frame; the wrapping
	// error's message carries how many bytes were read.
	ErrEOF = errors.New("wire: connection closed before n bytes read")
)

// -------------------------------------------------------------------------
// Header
// -------------------------------------------------------------------------

// Header is the decoded form of a Frame's 5-byte wire header.
type Header struct {
	Type       Type
	MsgID      uint16
	PayloadLen uint16
}

// Encode packs h into the first HeaderSize bytes of buf. buf must be at
// least HeaderSize bytes long.
func Encode(h Header, buf []byte) {
	_ = buf[HeaderSize-1] // bounds check hint, mirrors packet.go's buffer-write style
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[1:3], h.MsgID)
	binary.BigEndian.PutUint16(buf[3:5], h.PayloadLen)
}

// Decode unpacks a Header from the first HeaderSize bytes of buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("decode header: %w", ErrShortHeader)
	}

	return Header{
		Type:       Type(buf[0]),
		MsgID:      binary.BigEndian.Uint16(buf[1:3]),
		PayloadLen: binary.BigEndian.Uint16(buf[3:5]),
	}, nil
}

// -------------------------------------------------------------------------
// Buffer pool
// -------------------------------------------------------------------------

// payloadPool recycles payload-sized byte slices to avoid a per-frame
// allocation on the hot read/write path.
var payloadPool = sync.Pool{
	New: func() any {
		b := make([]byte, MaxPayloadLen)
		return &b
	},
}

// GetPayloadBuf returns a pooled buffer of at least n bytes. Callers must
// return it via PutPayloadBuf once done.
func GetPayloadBuf(n int) *[]byte {
	bufp, ok := payloadPool.Get().(*[]byte)
	if !ok || cap(*bufp) < n {
		b := make([]byte, n)
		return &b
	}
	*bufp = (*bufp)[:n]
	return bufp
}

// PutPayloadBuf returns a buffer obtained from GetPayloadBuf to the pool.
func PutPayloadBuf(bufp *[]byte) {
	if cap(*bufp) != MaxPayloadLen {
		return // oversized one-off allocation; let the GC reclaim it.
	}
	payloadPool.Put(bufp)
}

// -------------------------------------------------------------------------
// read_exact
// -------------------------------------------------------------------------

// ReadExact reads exactly n bytes from r into buf[:n]. If the peer closes
// the connection before n bytes arrive, it returns ErrEOF. This is the
// only read primitive sessions use.
func ReadExact(r io.Reader, buf []byte, n int) error {
	read := 0
	for read < n {
		m, err := r.Read(buf[read:n])
		read += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("read exact %d bytes (got %d): %w", n, read, ErrEOF)
			}
			return fmt.Errorf("read exact %d bytes (got %d): %w", n, read, err)
		}
	}
	return nil
}

// ReadFrame reads one complete Frame from r: the fixed header, then its
// payload (if PayloadLen > 0). The returned payload buffer is pooled —
// callers must call PutPayloadBuf(payload) once they are done with it.
func ReadFrame(r io.Reader) (Header, *[]byte, error) {
	var hdrBuf [HeaderSize]byte
	if err := ReadExact(r, hdrBuf[:], HeaderSize); err != nil {
		return Header{}, nil, fmt.Errorf("read frame header: %w", err)
	}

	h, err := Decode(hdrBuf[:])
	if err != nil {
		return Header{}, nil, fmt.Errorf("read frame: %w", err)
	}

	if h.PayloadLen == 0 {
		empty := make([]byte, 0)
		return h, &empty, nil
	}

	payload := GetPayloadBuf(int(h.PayloadLen))
	if err := ReadExact(r, *payload, int(h.PayloadLen)); err != nil {
		PutPayloadBuf(payload)
		return Header{}, nil, fmt.Errorf("read frame payload: %w", err)
	}

	return h, payload, nil
}

// WriteFrame writes one complete Frame (header + payload) to w as a
// single Write call so the two never interleave with another frame's
// bytes on the wire. Callers are responsible for serializing concurrent
// WriteFrame calls on the same w (see internal/session's writer mailbox).
func WriteFrame(w io.Writer, t Type, msgID uint16, payload []byte) error {
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("write frame: payload length %d exceeds max %d", len(payload), MaxPayloadLen)
	}

	buf := make([]byte, HeaderSize+len(payload))
	Encode(Header{Type: t, MsgID: msgID, PayloadLen: uint16(len(payload))}, buf) //nolint:gosec // bounds-checked above
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
