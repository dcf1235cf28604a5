// Package registry tracks live connections: the device-id to
// connection-set index, the admin connection set, and the allocation of
// human-readable connection identifiers.
package registry
