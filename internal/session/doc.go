// Package session owns the per-connection protocol state for both harness
// roles.
//
// Ownership boundary:
// - handshake simulator state (init -> handshake sent -> authenticated)
// - receiver pipeline (decode -> verify -> store -> ack)
//
// A Session is driven by exactly one connection goroutine and is not safe for
// concurrent use. Sessions never share mutable state with each other.
package session
