// Package server exposes watches over HTTP.
//
// It serves a small dashboard, a JSON API over the snapshot store, a
// manual refresh endpoint rate limited per watch, and a Server-Sent Events
// stream of snapshot changes. Shutdown follows the context passed to
// [Server.Start].
package server
