package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// Provisioner prepares the per-user content area when a user session is
// first created.
type Provisioner interface {
	Provision(sessionID string) error
}

// Relay owns the session registry and the message store.
type Relay struct {
	mu       sync.RWMutex
	sessions []*Session
	byID     map[string]*Session
	store    *Store

	names       []string
	provisioner Provisioner
	now         func() time.Time
	log         *logging.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithNames sets the display-name pool.
func WithNames(names []string) Option {
	return func(r *Relay) {
		r.names = append([]string(nil), names...)
	}
}

// WithProvisioner sets the content-area provisioner run for new users.
func WithProvisioner(p Provisioner) Option {
	return func(r *Relay) {
		r.provisioner = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(r *Relay) {
		r.log = log.Sub("relay")
	}
}

// NewRelay creates an empty relay.
func NewRelay(opts ...Option) *Relay {
	r := &Relay{
		byID:  make(map[string]*Session),
		store: NewStore(),
		names: DefaultNames,
		now:   time.Now,
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConnectOrReuse binds conn to the user session for endpoint. A known
// endpoint keeps its session id; otherwise a new user is created with a
// fresh id, a free display name and a provisioned content area.
func (r *Relay) ConnectOrReuse(ep Endpoint, conn Conn) (id string, reused bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if s := r.findEndpoint(ep); s != nil {
		s.conn = conn
		s.LastSeen = now
		s.Active = true
		r.log.Info().Str("session", s.ID).Str("name", s.Name).Msg("session reused")
		return s.ID, true, nil
	}

	name, err := AssignDisplayName(r.names, r.nameTaken)
	if err != nil {
		return "", false, err
	}
	id = NewSessionID()
	if r.provisioner != nil {
		if err := r.provisioner.Provision(id); err != nil {
			return "", false, fmt.Errorf("provisioning content area: %w", err)
		}
	}

	r.insert(&Session{
		ID:       id,
		Kind:     KindUser,
		Name:     name,
		Endpoint: ep,
		LastSeen: now,
		Active:   true,
		conn:     conn,
	})
	r.log.Info().Str("session", id).Str("name", name).Str("remote", ep.Address+":"+ep.Port).Msg("session created")
	return id, false, nil
}

// Disconnect marks the user session inactive and drops its handle. It is a
// no-op unless conn is still the session's current handle, so a stale socket
// closing after a reconnect does not take the session offline.
func (r *Relay) Disconnect(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok || s.Kind != KindUser || s.conn != conn {
		return false
	}
	s.conn = nil
	s.Active = false
	s.LastSeen = r.now()
	r.log.Info().Str("session", id).Msg("session inactive")
	return true
}

// CreateGroup registers a group named name holding memberIDs plus the
// creator. Every member must be an existing user session.
func (r *Relay) CreateGroup(name, creatorID string, memberIDs []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name required", ErrInvalidGroup)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]Member, 0, len(memberIDs)+1)
	seen := make(map[string]bool, len(memberIDs)+1)
	for _, id := range append(append([]string(nil), memberIDs...), creatorID) {
		if seen[id] {
			continue
		}
		s, ok := r.byID[id]
		if !ok || s.Kind != KindUser {
			return "", fmt.Errorf("%w: %q", ErrUnknownParticipant, id)
		}
		seen[id] = true
		members = append(members, Member{ID: s.ID, Name: s.Name})
	}

	id := NewSessionID()
	r.insert(&Session{
		ID:       id,
		Kind:     KindGroup,
		Name:     name,
		LastSeen: r.now(),
		Active:   true,
		Members:  members,
	})
	r.log.Info().Str("group", id).Str("name", name).Int("members", len(members)).Msg("group created")
	return id, nil
}

// Resolve checks that to names a session of the kind targetType addresses.
func (r *Relay) Resolve(to string, tt TargetType) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, err := r.resolve(to, tt)
	return err
}

// Post stamps msg with its target key and send time and appends it to the
// store. The recipient must resolve.
func (r *Relay) Post(msg Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.TargetType != TargetGroup {
		msg.TargetType = TargetUser
	}
	if _, err := r.resolve(msg.To, msg.TargetType); err != nil {
		return Message{}, err
	}
	if msg.Kind == "" {
		msg.Kind = KindText
	}
	msg.SentAt = r.now()
	msg.Target = TargetKey(msg.TargetType, msg.To, msg.From)
	r.store.Append(msg)
	return msg, nil
}

// Query returns the stored conversation, oldest first.
func (r *Relay) Query(to, from string, tt TargetType) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Query(to, from, tt)
}

// Roster lists every session except selfID together with the latest message
// of selfID's conversation with it. The result is never nil.
func (r *Relay) Roster(selfID string) []RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RosterEntry, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.ID == selfID {
			continue
		}
		entry := RosterEntry{
			ID:       s.ID,
			Name:     s.Name,
			Active:   s.Active,
			LastSeen: s.LastSeen,
			Type:     s.Kind,
		}
		if s.Kind == KindGroup {
			entry.Members = append([]Member(nil), s.Members...)
			entry.LastMessage = r.store.Last(s.ID, "", TargetGroup)
		} else {
			entry.LastMessage = r.store.Last(s.ID, selfID, TargetUser)
		}
		out = append(out, entry)
	}
	return out
}

// Recipients returns every session with a live connection, in registration
// order.
func (r *Relay) Recipients() []Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Recipient, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.conn != nil {
			out = append(out, Recipient{ID: s.ID, Conn: s.conn})
		}
	}
	return out
}

// Conn returns the live connection of a session.
func (r *Relay) Conn(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok || s.conn == nil {
		return nil, false
	}
	return s.conn, true
}

// MemberConns resolves the live connection of every group member at call
// time. Members without a connection are skipped.
func (r *Relay) MemberConns(groupID string) ([]Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, err := r.resolve(groupID, TargetGroup)
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(g.Members))
	for _, m := range g.Members {
		if s, ok := r.byID[m.ID]; ok && s.conn != nil {
			out = append(out, Recipient{ID: s.ID, Conn: s.conn})
		}
	}
	return out, nil
}

// Session returns a copy of the session with the given id.
func (r *Relay) Session(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return Session{}, false
	}
	cp := *s
	cp.Members = append([]Member(nil), s.Members...)
	return cp, true
}

// Stats summarizes the registry for metrics reporting.
type Stats struct {
	Users    int
	Active   int
	Groups   int
	Messages int
}

// Stats returns current registry counts.
func (r *Relay) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st Stats
	for _, s := range r.sessions {
		switch s.Kind {
		case KindGroup:
			st.Groups++
		default:
			st.Users++
			if s.Active {
				st.Active++
			}
		}
	}
	st.Messages = r.store.Len()
	return st
}

func (r *Relay) insert(s *Session) {
	r.sessions = append(r.sessions, s)
	r.byID[s.ID] = s
}

func (r *Relay) findEndpoint(ep Endpoint) *Session {
	for _, s := range r.sessions {
		if s.Kind == KindUser && s.Endpoint == ep {
			return s
		}
	}
	return nil
}

func (r *Relay) nameTaken(name string) bool {
	for _, s := range r.sessions {
		if s.Kind == KindUser && s.Active && s.Name == name {
			return true
		}
	}
	return false
}

func (r *Relay) resolve(to string, tt TargetType) (*Session, error) {
	s, ok := r.byID[to]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipient, to)
	}
	want := KindUser
	if tt == TargetGroup {
		want = KindGroup
	}
	if s.Kind != want {
		return nil, fmt.Errorf("%w: %q is a %s, not a %s", ErrUnknownRecipient, to, s.Kind, want)
	}
	return s, nil
}
