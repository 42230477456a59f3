package server

import "strings"

// inboundFrame is a frame read from a client, queued for the hub. A frame
// with closed set marks the end of the client's stream; it shares the mailbox
// so it is handled after every frame the client sent before it.
type inboundFrame struct {
	client *Client
	kind   int
	data   []byte
	closed bool
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
