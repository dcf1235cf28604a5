// Package auth classifies a LOGIN attempt as a device, an admin, or
// rejected, based on the presented device id and token.
package auth
