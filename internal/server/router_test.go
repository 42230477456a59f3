package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/content"
	"github.com/Tyrowin/chatrelay/internal/crypt"
)

const testSecret = "test-secret"

type routerFixture struct {
	router *Router
	codec  *crypt.Codec
	relay  *chat.Relay
	root   string
}

func newRouterFixture(t *testing.T, opts ...chat.Option) *routerFixture {
	t.Helper()
	codec, err := crypt.New(testSecret)
	require.NoError(t, err)
	root := t.TempDir()
	area := content.NewArea(root)
	relay := chat.NewRelay(append([]chat.Option{chat.WithProvisioner(area)}, opts...)...)
	return &routerFixture{
		router: NewRouter(relay, codec, area, NewMetrics(), nil),
		codec:  codec,
		relay:  relay,
		root:   root,
	}
}

func testLimits(burst int, interval time.Duration) Limits {
	return Limits{
		MaxMessageSize: 1 << 20,
		RateLimit:      config.RateLimitConfig{Burst: burst, RefillInterval: interval},
	}
}

func (f *routerFixture) connect(t *testing.T, addr string) *Client {
	t.Helper()
	c := NewClient(nil, nil, addr, testLimits(100, time.Second), nil)
	require.NoError(t, f.router.Connect(c))
	require.NotEmpty(t, c.SessionID())
	return c
}

func (f *routerFixture) control(t *testing.T, c *Client, action string, payload any) {
	t.Helper()
	text, err := EncodeControl(f.codec, action, payload)
	require.NoError(t, err)
	f.router.Handle(c, inboundFrame{client: c, kind: websocket.TextMessage, data: []byte(text)})
}

func (f *routerFixture) raw(c *Client, kind int, data []byte) {
	f.router.Handle(c, inboundFrame{client: c, kind: kind, data: data})
}

// drain returns every frame queued for c, decrypted.
func (f *routerFixture) drain(t *testing.T, c *Client) []RawFrame {
	t.Helper()
	var out []RawFrame
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return out
			}
			frame, err := DecodeFrame(f.codec, b)
			require.NoError(t, err)
			out = append(out, frame)
		default:
			return out
		}
	}
}

func frameTypes(frames []RawFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func decodeData[T any](t *testing.T, f RawFrame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func lastOfType(t *testing.T, frames []RawFrame, frameType string) RawFrame {
	t.Helper()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == frameType {
			return frames[i]
		}
	}
	require.Failf(t, "frame not found", "no %q frame in %v", frameType, frameTypes(frames))
	return RawFrame{}
}

func TestConnectGreetsAndBroadcasts(t *testing.T) {
	f := newRouterFixture(t)

	x := f.connect(t, "10.0.0.1:1")
	frames := f.drain(t, x)
	require.Equal(t, []string{FrameConnected, FrameNewClient}, frameTypes(frames))
	hello := decodeData[ConnectedData](t, frames[0])
	assert.Equal(t, x.SessionID(), hello.You)
	assert.Empty(t, hello.Clients)

	y := f.connect(t, "10.0.0.1:2")
	yFrames := f.drain(t, y)
	hello = decodeData[ConnectedData](t, yFrames[0])
	require.Len(t, hello.Clients, 1)
	assert.Equal(t, x.SessionID(), hello.Clients[0].ID)
	assert.True(t, hello.Clients[0].Active)

	roster := decodeData[RosterData](t, lastOfType(t, f.drain(t, x), FrameNewClient))
	require.Len(t, roster.Clients, 1)
	assert.Equal(t, y.SessionID(), roster.Clients[0].ID)
	assert.Nil(t, roster.Clients[0].LastMessage)
}

func TestConnectNamePoolExhausted(t *testing.T) {
	f := newRouterFixture(t, chat.WithNames([]string{"Ana"}))
	f.connect(t, "10.0.0.1:1")

	c := NewClient(nil, nil, "10.0.0.1:2", testLimits(100, time.Second), nil)
	err := f.router.Connect(c)
	require.ErrorIs(t, err, chat.ErrNamePoolExhausted)
	assert.Empty(t, c.SessionID())

	frames := f.drain(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, CodeNamePoolExhausted, decodeData[ErrorData](t, frames[0]).Code)
}

// TestTextDeliveredToBothParticipants has x write to y and checks both get
// the conversation, a third user gets only the roster, and the roster's last
// message is updated.
func TestTextDeliveredToBothParticipants(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	y := f.connect(t, "10.0.0.1:2")
	z := f.connect(t, "10.0.0.1:3")
	f.drain(t, x)
	f.drain(t, y)
	f.drain(t, z)

	f.control(t, x, ActionText, TextRequest{From: "spoofed", To: y.SessionID(), Message: "hi", TargetType: chat.TargetUser})

	for _, c := range []*Client{x, y} {
		frames := f.drain(t, c)
		require.Equal(t, []string{FrameMessage, FrameNewClient}, frameTypes(frames))
		msgs := decodeData[[]chat.Message](t, frames[0])
		require.Len(t, msgs, 1)
		assert.Equal(t, x.SessionID(), msgs[0].From, "sender is the bound session")
		assert.Equal(t, y.SessionID(), msgs[0].To)
		assert.Equal(t, "hi", msgs[0].Body)
		assert.Equal(t, chat.KindText, msgs[0].Kind)
	}

	zFrames := f.drain(t, z)
	assert.Equal(t, []string{FrameNewClient}, frameTypes(zFrames))

	f.control(t, y, ActionText, TextRequest{To: x.SessionID(), Message: "back"})
	roster := decodeData[RosterData](t, lastOfType(t, f.drain(t, y), FrameNewClient))
	for _, e := range roster.Clients {
		if e.ID == x.SessionID() {
			require.NotNil(t, e.LastMessage)
			assert.Equal(t, "back", e.LastMessage.Body)
		}
	}
}

func TestTextToUnknownRecipientDropped(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	f.drain(t, x)

	f.control(t, x, ActionText, TextRequest{To: "ghost", Message: "hi", TargetType: chat.TargetUser})

	assert.Empty(t, f.drain(t, x))
	assert.Equal(t, 0, f.relay.Stats().Messages)
}

func TestMessagesQueryIsSymmetric(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	y := f.connect(t, "10.0.0.1:2")
	f.control(t, x, ActionText, TextRequest{To: y.SessionID(), Message: "one"})
	f.control(t, y, ActionText, TextRequest{To: x.SessionID(), Message: "two"})
	f.drain(t, x)
	f.drain(t, y)

	f.control(t, y, ActionMessages, MessagesRequest{To: x.SessionID(), TargetType: chat.TargetUser})
	frames := f.drain(t, y)
	require.Equal(t, []string{FrameMessage}, frameTypes(frames))
	msgs := decodeData[[]chat.Message](t, frames[0])
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, "two", msgs[1].Body)
}

func TestGroupMessageReachesMembersOnly(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	y := f.connect(t, "10.0.0.1:2")
	z := f.connect(t, "10.0.0.1:3")

	f.control(t, x, ActionNewGroup, NewGroupRequest{Name: "Team", Members: []string{y.SessionID()}, ID: x.SessionID()})
	roster := decodeData[RosterData](t, lastOfType(t, f.drain(t, y), FrameNewClient))
	var groupID string
	for _, e := range roster.Clients {
		if e.Type == chat.KindGroup {
			groupID = e.ID
			assert.Equal(t, "Team", e.Name)
			assert.Len(t, e.Members, 2)
		}
	}
	require.NotEmpty(t, groupID)
	f.drain(t, x)
	f.drain(t, z)

	f.control(t, y, ActionText, TextRequest{To: groupID, Message: "hello team", TargetType: chat.TargetGroup})

	for _, c := range []*Client{x, y} {
		frames := f.drain(t, c)
		msgs := decodeData[[]chat.Message](t, lastOfType(t, frames, FrameMessage))
		require.Len(t, msgs, 1)
		assert.Equal(t, chat.TargetGroup, msgs[0].TargetType)
		assert.Equal(t, chat.TargetKey(chat.TargetGroup, groupID, ""), msgs[0].Target)
	}
	assert.Equal(t, []string{FrameNewClient}, frameTypes(f.drain(t, z)))
}

func TestNewGroupUnknownParticipant(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	f.drain(t, x)

	f.control(t, x, ActionNewGroup, NewGroupRequest{Name: "Team", Members: []string{"ghost"}})

	frames := f.drain(t, x)
	require.Equal(t, []string{FrameError}, frameTypes(frames))
	assert.Equal(t, CodeUnknownParticipant, decodeData[ErrorData](t, frames[0]).Code)
	assert.Equal(t, 0, f.relay.Stats().Groups)
}

// TestUploadTwoChunks streams a file in two binary chunks and checks the
// asset on disk and the file message both participants receive.
func TestUploadTwoChunks(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	y := f.connect(t, "10.0.0.1:2")
	f.drain(t, x)
	f.drain(t, y)

	f.control(t, x, ActionUpload, UploadRequest{
		ID: x.SessionID(), Type: "images", Name: "cat.png", Message: "look", To: y.SessionID(), TargetType: chat.TargetUser,
	})
	f.raw(x, websocket.BinaryMessage, []byte("first-"))
	f.raw(x, websocket.BinaryMessage, []byte("second"))
	assert.Empty(t, f.drain(t, y), "nothing is delivered before finish")

	f.raw(x, websocket.TextMessage, []byte("finish"))

	wantSrc := "uploads/" + x.SessionID() + "/images/cat.png"
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(wantSrc)))
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(data))

	for _, c := range []*Client{x, y} {
		msgs := decodeData[[]chat.Message](t, lastOfType(t, f.drain(t, c), FrameMessage))
		require.Len(t, msgs, 1)
		assert.Equal(t, chat.KindImage, msgs[0].Kind)
		assert.Equal(t, wantSrc, msgs[0].AssetPath)
		assert.Equal(t, "look", msgs[0].Body)
	}
	assert.False(t, x.upload.Open())
}

func TestUploadAppendsUnrecognisedTextWhileStreaming(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	y := f.connect(t, "10.0.0.1:2")

	f.control(t, x, ActionUpload, UploadRequest{Type: "documents", Name: "notes.txt", To: y.SessionID()})
	f.raw(x, websocket.TextMessage, []byte("plain text chunk"))
	f.raw(x, websocket.TextMessage, []byte("finish"))

	data, err := os.ReadFile(filepath.Join(f.root, "uploads", x.SessionID(), "documents", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "plain text chunk", string(data))

	msgs := f.relay.Query(y.SessionID(), x.SessionID(), chat.TargetUser)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.KindFile, msgs[0].Kind)
}

func TestUploadInvalidKindReportsStorageError(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	y := f.connect(t, "10.0.0.1:2")
	f.drain(t, x)

	f.control(t, x, ActionUpload, UploadRequest{Type: "../../etc", Name: "passwd", To: y.SessionID()})

	frames := f.drain(t, x)
	require.Equal(t, []string{FrameError}, frameTypes(frames))
	assert.Equal(t, CodeStorageWrite, decodeData[ErrorData](t, frames[0]).Code)
	assert.False(t, x.upload.Open())
}

func TestUploadToUnknownRecipientDropped(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	f.drain(t, x)

	f.control(t, x, ActionUpload, UploadRequest{Type: "images", Name: "cat.png", To: "ghost"})

	assert.False(t, x.upload.Open())
	assert.Empty(t, f.drain(t, x))
}

func TestFinishAndChunksOutsideTransferIgnored(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	f.drain(t, x)

	f.raw(x, websocket.TextMessage, []byte("finish"))
	f.raw(x, websocket.BinaryMessage, []byte{1, 2, 3})
	f.raw(x, websocket.TextMessage, []byte("not a control frame"))

	assert.Empty(t, f.drain(t, x))
	assert.Equal(t, 0, f.relay.Stats().Messages)
}

func TestDisconnectAbortsUploadAndBroadcasts(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	y := f.connect(t, "10.0.0.1:2")
	f.control(t, x, ActionUpload, UploadRequest{Type: "videos", Name: "clip.mp4", To: y.SessionID()})
	f.raw(x, websocket.BinaryMessage, []byte("partial"))
	f.drain(t, y)

	f.router.Disconnect(x)

	assert.False(t, x.upload.Open())
	_, err := os.Stat(filepath.Join(f.root, "uploads", x.SessionID(), "videos", "clip.mp4"))
	assert.NoError(t, err, "partial asset is left in place")

	roster := decodeData[RosterData](t, lastOfType(t, f.drain(t, y), FrameNewClient))
	require.Len(t, roster.Clients, 1)
	assert.False(t, roster.Clients[0].Active)
	assert.Empty(t, f.relay.Query(y.SessionID(), x.SessionID(), chat.TargetUser))
}

func TestControlFramesAreRateLimited(t *testing.T) {
	f := newRouterFixture(t)
	x := NewClient(nil, nil, "10.0.0.1:1", testLimits(1, time.Hour), nil)
	require.NoError(t, f.router.Connect(x))
	y := f.connect(t, "10.0.0.1:2")

	f.control(t, x, ActionText, TextRequest{To: y.SessionID(), Message: "one"})
	f.control(t, x, ActionText, TextRequest{To: y.SessionID(), Message: "two"})

	assert.Equal(t, 1, f.relay.Stats().Messages)
}

func TestFullBufferMarksClientFailed(t *testing.T) {
	f := newRouterFixture(t)
	x := f.connect(t, "10.0.0.1:1")
	y := f.connect(t, "10.0.0.1:2")
	for y.Send([]byte("filler")) {
	}

	f.control(t, x, ActionText, TextRequest{To: y.SessionID(), Message: "hi"})

	failed := f.router.takeFailed()
	require.NotEmpty(t, failed)
	assert.Same(t, y, failed[0])
	assert.Empty(t, f.router.takeFailed())
}

func TestParseControlSplitsOnFirstSeparator(t *testing.T) {
	action, payload, ok := parseControl(`text;{"message":"a;b"}`)
	require.True(t, ok)
	assert.Equal(t, "text", action)
	assert.Equal(t, `{"message":"a;b"}`, payload)

	_, _, ok = parseControl("finish")
	assert.False(t, ok)
}
