package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/content"
	"github.com/Tyrowin/chatrelay/internal/crypt"
	"github.com/Tyrowin/chatrelay/internal/transfer"
)

// Outbound frame types.
const (
	FrameConnected = "connected"
	FrameNewClient = "new_client"
	FrameMessage   = "message"
	FrameError     = "error"
)

// Inbound control actions.
const (
	ActionUpload   = "upload"
	ActionText     = "text"
	ActionMessages = "messages"
	ActionNewGroup = "new_group"
)

// Error codes carried by error frames.
const (
	CodeUnknownParticipant = "unknown_participant"
	CodeInvalidGroup       = "invalid_group"
	CodeStorageWrite       = "storage_write"
	CodeNamePoolExhausted  = "name_pool_exhausted"
)

// Frame is the envelope of every outbound frame before encryption.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RawFrame is a decrypted outbound frame with its data left undecoded.
type RawFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ConnectedData greets a freshly bound connection.
type ConnectedData struct {
	Clients []chat.RosterEntry `json:"clients"`
	You     string             `json:"you"`
}

// RosterData is the payload of a new_client frame.
type RosterData struct {
	Clients []chat.RosterEntry `json:"clients"`
}

// ErrorData reports a failed request back to its sender.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UploadRequest announces a file transfer.
type UploadRequest struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Name       string          `json:"name"`
	Message    string          `json:"message"`
	To         string          `json:"to"`
	TargetType chat.TargetType `json:"targetType"`
}

// TextRequest posts a text message.
type TextRequest struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Message    string          `json:"message"`
	TargetType chat.TargetType `json:"targetType"`
}

// MessagesRequest asks for a conversation's history.
type MessagesRequest struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	TargetType chat.TargetType `json:"targetType"`
}

// NewGroupRequest creates a group.
type NewGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	ID      string   `json:"id"`
}

// parseControl splits a decrypted control frame into its action and JSON
// payload at the first separator.
func parseControl(plain string) (action, payload string, ok bool) {
	return strings.Cut(plain, ";")
}

// EncodeControl builds an encrypted inbound control frame the way clients do.
func EncodeControl(codec *crypt.Codec, action string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", action, err)
	}
	return codec.Encrypt(action + ";" + string(body))
}

// EncodeFrame marshals and encrypts an outbound frame.
func EncodeFrame(codec *crypt.Codec, frameType string, data any) ([]byte, error) {
	body, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", frameType, err)
	}
	sealed, err := codec.Encrypt(string(body))
	if err != nil {
		return nil, err
	}
	return []byte(sealed), nil
}

// DecodeFrame decrypts an outbound frame as a client would.
func DecodeFrame(codec *crypt.Codec, text []byte) (RawFrame, error) {
	plain, err := codec.Open(string(text))
	if err != nil {
		return RawFrame{}, err
	}
	var f RawFrame
	if err := json.Unmarshal([]byte(plain), &f); err != nil {
		return RawFrame{}, fmt.Errorf("decoding frame: %w", err)
	}
	return f, nil
}

// errorCode maps a request failure to the code reported to the client.
func errorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, chat.ErrUnknownParticipant):
		return CodeUnknownParticipant, true
	case errors.Is(err, chat.ErrInvalidGroup):
		return CodeInvalidGroup, true
	case errors.Is(err, chat.ErrNamePoolExhausted):
		return CodeNamePoolExhausted, true
	case errors.Is(err, transfer.ErrStorageWrite), errors.Is(err, content.ErrInvalidAsset):
		return CodeStorageWrite, true
	default:
		return "", false
	}
}
