// Package session implements one HyperTCP connection's lifecycle: the
// UNAUTH -> AUTH_DEVICE|AUTH_ADMIN -> CLOSED state machine, the framed
// read loop, and a single-writer outbound mailbox that guarantees
// frames on the wire never interleave.
package session
