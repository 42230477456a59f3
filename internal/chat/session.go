package chat

import "time"

// SessionKind distinguishes individual users from groups.
type SessionKind string

const (
	KindUser  SessionKind = "user"
	KindGroup SessionKind = "group"
)

// Conn is the outbound half of a live connection. Send must not block; it
// reports false when the frame could not be queued.
type Conn interface {
	Send(frame []byte) bool
}

// Endpoint is the network address a user connected from. It is only used to
// recognise a reconnect from the same physical endpoint.
type Endpoint struct {
	Address string
	Port    string
}

// Member is one participant of a group.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is a registry entry: a user or a group.
type Session struct {
	ID       string
	Kind     SessionKind
	Name     string
	Endpoint Endpoint
	LastSeen time.Time
	Active   bool
	Members  []Member

	conn Conn
}

// Live reports whether the session currently has a connection handle.
func (s *Session) Live() bool {
	return s.conn != nil
}

// HasMember reports whether id belongs to the group.
func (s *Session) HasMember(id string) bool {
	for _, m := range s.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// RosterEntry is one line of a participant's roster.
type RosterEntry struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Active      bool        `json:"active"`
	LastSeen    time.Time   `json:"lastSeen"`
	LastMessage *Message    `json:"lastMessage"`
	Type        SessionKind `json:"type"`
	Members     []Member    `json:"members,omitempty"`
}

// Recipient pairs a session id with its live connection.
type Recipient struct {
	ID   string
	Conn Conn
}
