// Package transfer implements the per-connection state machine for chunked
// file uploads.
//
// An upload is announced by a control frame, fed by raw chunk frames and
// committed by the "finish" sentinel:
//
//	Idle --Announce--> Announced --Write--> Streaming --Finish--> Idle
//	                       \______________Finish_____________/
//
// Abort returns to Idle from any state. Each chunk is one WebSocket frame, so
// a chunk larger than the connection read limit closes the connection.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

var (
	// ErrNoTransfer reports a chunk or finish signal with no open upload.
	ErrNoTransfer = errors.New("no transfer in progress")
	// ErrStorageWrite reports that the asset could not be written.
	ErrStorageWrite = errors.New("storage write failure")
)

// FinishSentinel is the literal text frame that completes an upload.
const FinishSentinel = "finish"

// State is the upload state.
type State int

const (
	Idle State = iota
	Announced
	Streaming
)

func (s State) String() string {
	switch s {
	case Announced:
		return "announced"
	case Streaming:
		return "streaming"
	default:
		return "idle"
	}
}

// Meta describes an announced upload.
type Meta struct {
	SenderID   string
	AssetKind  string
	FileName   string
	Body       string
	To         string
	TargetType chat.TargetType
}

// Upload is the transfer state of one connection. The zero value is Idle.
// It is not safe for concurrent use.
type Upload struct {
	state     State
	meta      Meta
	w         io.WriteCloser
	assetPath string
	written   int64
}

// State returns the current state.
func (u *Upload) State() State {
	return u.state
}

// Open reports whether an upload is announced or streaming.
func (u *Upload) Open() bool {
	return u.state != Idle
}

// Written returns the number of bytes written so far.
func (u *Upload) Written() int64 {
	return u.written
}

// Announce starts a new upload writing to w. An upload that is still open is
// aborted first; the returned error reports a failure closing it.
func (u *Upload) Announce(meta Meta, w io.WriteCloser, assetPath string) error {
	var err error
	if u.Open() {
		err = u.Abort()
	}
	u.state = Announced
	u.meta = meta
	u.w = w
	u.assetPath = assetPath
	u.written = 0
	return err
}

// Write appends a chunk to the open upload. A failed write aborts it.
func (u *Upload) Write(chunk []byte) error {
	if !u.Open() {
		return ErrNoTransfer
	}
	n, err := u.w.Write(chunk)
	u.written += int64(n)
	if err != nil {
		_ = u.Abort()
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	u.state = Streaming
	return nil
}

// Finish closes the asset and returns the file message it becomes. The
// message is not yet stored; the caller posts it.
func (u *Upload) Finish() (chat.Message, error) {
	if !u.Open() {
		return chat.Message{}, ErrNoTransfer
	}
	meta, assetPath, w := u.meta, u.assetPath, u.w
	u.reset()
	if err := w.Close(); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return chat.Message{
		From:       meta.SenderID,
		To:         meta.To,
		Body:       meta.Body,
		Kind:       KindFor(meta.AssetKind),
		TargetType: meta.TargetType,
		SentAt:     time.Now(),
		AssetPath:  assetPath,
	}, nil
}

// Abort drops the open upload and closes its writer. Bytes already written
// stay where they are.
func (u *Upload) Abort() error {
	if !u.Open() {
		return nil
	}
	w := u.w
	u.reset()
	return w.Close()
}

func (u *Upload) reset() {
	u.state = Idle
	u.meta = Meta{}
	u.w = nil
	u.assetPath = ""
	u.written = 0
}

// KindFor maps an asset folder to the message kind clients render.
func KindFor(assetKind string) chat.MessageKind {
	switch assetKind {
	case "images", "images/min", "profile_pics":
		return chat.KindImage
	default:
		return chat.KindFile
	}
}
