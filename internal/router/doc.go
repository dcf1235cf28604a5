// Package router dispatches JSON_MESSAGE and BROADCAST frames to their
// recipients using internal/registry's connection snapshots.
package router
