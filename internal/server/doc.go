// Package server implements the WebSocket relay: the hub event loop, the
// per-connection pumps, the action router and the HTTP surface around them.
//
// Every inbound frame, connect and disconnect is handled on the hub
// goroutine, so router code never runs concurrently with itself.
package server
