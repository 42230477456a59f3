package chat

import "time"

// MessageKind is the content type of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// TargetType tells whether a message is addressed to a user or a group.
type TargetType string

const (
	TargetUser  TargetType = "user"
	TargetGroup TargetType = "group"
)

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	return t == TargetUser || t == TargetGroup
}

// Message is an immutable entry of the conversation log. JSON names follow
// the wire protocol spoken by existing clients.
type Message struct {
	From       string      `json:"from"`
	To         string      `json:"to"`
	Body       string      `json:"message"`
	Target     string      `json:"target"`
	Kind       MessageKind `json:"type"`
	TargetType TargetType  `json:"targetType"`
	SentAt     time.Time   `json:"date"`
	AssetPath  string      `json:"src,omitempty"`
}

// TargetKey returns the conversation key for a message between to and from.
// Two-party keys are order independent so both participants address the
// same conversation.
func TargetKey(tt TargetType, to, from string) string {
	if tt == TargetGroup {
		return to + ";group"
	}
	if from < to {
		to, from = from, to
	}
	return to + ";" + from
}
