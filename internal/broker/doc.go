// Package broker wires the authenticator, routing registry, router, and
// admin event feed together, owns the TCP accept loop, and implements
// internal/session's Dispatcher so that accepted connections know what
// a LOGIN, PING, JSON_MESSAGE, or BROADCAST frame means.
package broker
