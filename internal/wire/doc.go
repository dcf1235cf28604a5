// Package wire implements the HyperTCP framing codec: a fixed 5-byte
// big-endian header (Type, MsgID, PayloadLen) followed by a
// length-prefixed payload.
package wire
