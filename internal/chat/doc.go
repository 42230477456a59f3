// Package chat holds the relay's state: the session registry, the
// append-only message store and the identity allocator that names new users.
//
// Relay is the single owner of that state. Every mutation goes through its
// methods, which share one mutex, so callers on any goroutine observe the
// registry and the store change together.
package chat
