// Package events emits the admin lifecycle feed: deviceConnected,
// deviceDisconnected, and the deviceStatus snapshot sent on admin
// attach, as JSON_MESSAGE frames to every admin connection.
package events
