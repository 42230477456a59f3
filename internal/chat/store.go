package chat

// Store is the append-only in-memory message log. It is not safe for
// concurrent use; Relay guards it.
type Store struct {
	messages []Message
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds msg to the end of the log. The target key is derived here so
// stored messages are always addressable.
func (s *Store) Append(msg Message) {
	msg.Target = TargetKey(msg.TargetType, msg.To, msg.From)
	s.messages = append(s.messages, msg)
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	return len(s.messages)
}

// Query returns a conversation oldest first. For groups from is ignored and
// the whole group history is returned; for users only messages exchanged
// between to and from are returned, whichever side sent them.
func (s *Store) Query(to, from string, tt TargetType) []Message {
	key := TargetKey(tt, to, from)
	out := make([]Message, 0)
	for _, m := range s.messages {
		if m.TargetType == tt && m.Target == key {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message of the conversation, or nil.
func (s *Store) Last(to, from string, tt TargetType) *Message {
	key := TargetKey(tt, to, from)
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.TargetType == tt && m.Target == key {
			return &m
		}
	}
	return nil
}
