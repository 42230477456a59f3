package chat

import "errors"

var (
	// ErrUnknownRecipient reports a message or upload addressed to a session
	// that does not exist or whose kind does not match the target type.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrUnknownParticipant reports a group member id that does not resolve.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrInvalidGroup reports a group creation request without a name.
	ErrInvalidGroup = errors.New("invalid group")
	// ErrNamePoolExhausted is returned when every display name is held by an
	// active user.
	ErrNamePoolExhausted = errors.New("display name pool exhausted")
)
