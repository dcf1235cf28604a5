// Package bridge relays the HyperTCP wire protocol over WebSocket so that
// browser clients, which cannot open a raw TCP socket, can speak to a
// broker. Each WebSocket connection pairs with one TCP connection to the
// broker for its lifetime; closing either side closes the other.
package bridge
