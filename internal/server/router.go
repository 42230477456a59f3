package server

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/content"
	"github.com/Tyrowin/chatrelay/internal/crypt"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/transfer"
)

type actionHandler func(c *Client, payload []byte)

// Router decodes inbound frames and applies them to the relay. It is driven
// by the hub goroutine and is not safe for concurrent use.
type Router struct {
	relay   *chat.Relay
	codec   *crypt.Codec
	area    *content.Area
	metrics *Metrics
	log     *logging.Logger

	handlers map[string]actionHandler
	failed   []*Client
}

// NewRouter creates a router over relay. metrics may be nil.
func NewRouter(relay *chat.Relay, codec *crypt.Codec, area *content.Area, metrics *Metrics, log *logging.Logger) *Router {
	if log == nil {
		log = logging.Nop()
	}
	r := &Router{
		relay:   relay,
		codec:   codec,
		area:    area,
		metrics: metrics,
		log:     log.Sub("router"),
	}
	r.handlers = map[string]actionHandler{
		ActionUpload:   r.handleUpload,
		ActionText:     r.handleText,
		ActionMessages: r.handleMessages,
		ActionNewGroup: r.handleNewGroup,
	}
	return r
}

// Connect binds c to its user session, greets it and broadcasts the roster.
func (r *Router) Connect(c *Client) error {
	id, reused, err := r.relay.ConnectOrReuse(c.Endpoint(), c)
	if err != nil {
		r.sendError(c, err)
		return err
	}
	c.sessionID = id
	r.log.Debug().Str("session", id).Bool("reused", reused).Msg("connected")

	r.send(c, FrameConnected, ConnectedData{Clients: r.relay.Roster(id), You: id})
	r.broadcastRoster()
	return nil
}

// Disconnect takes c's session offline, drops any open upload and
// broadcasts the roster.
func (r *Router) Disconnect(c *Client) {
	r.abortUpload(c, "disconnect")
	if c.sessionID == "" {
		return
	}
	if r.relay.Disconnect(c.sessionID, c) {
		r.broadcastRoster()
	}
}

// Handle processes one inbound frame from c.
func (r *Router) Handle(c *Client, f inboundFrame) {
	if c.sessionID == "" {
		return
	}
	if f.kind == websocket.BinaryMessage {
		r.handleChunk(c, f.data)
		return
	}
	if string(f.data) == transfer.FinishSentinel {
		r.handleFinish(c)
		return
	}

	action, payload, ok := parseControl(r.codec.Decrypt(string(f.data)))
	handler, known := r.handlers[action]
	if !ok || !known {
		if c.upload.Open() {
			r.handleChunk(c, f.data)
			return
		}
		r.log.Debug().Str("session", c.sessionID).Msg("ignoring unrecognised frame")
		return
	}

	if !c.allow() {
		r.log.Warn().Str("session", c.sessionID).Str("action", action).
			Int("burst", c.limits.RateLimit.Burst).Dur("interval", c.limits.RateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding frame")
		if r.metrics != nil {
			r.metrics.rateLimited.Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.framesIn.WithLabelValues(action).Inc()
	}
	handler(c, []byte(payload))
}

func (r *Router) handleUpload(c *Client, payload []byte) {
	var req UploadRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Msg("invalid upload payload")
		return
	}
	if req.TargetType != chat.TargetGroup {
		req.TargetType = chat.TargetUser
	}
	if err := r.relay.Resolve(req.To, req.TargetType); err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Str("to", req.To).Msg("dropping upload")
		return
	}

	r.abortUpload(c, "superseded")
	f, assetPath, err := r.area.Create(c.sessionID, req.Type, req.Name)
	if err != nil {
		r.log.Error().Err(err).Str("session", c.sessionID).Msg("creating asset")
		r.sendError(c, err)
		return
	}
	meta := transfer.Meta{
		SenderID:   c.sessionID,
		AssetKind:  req.Type,
		FileName:   req.Name,
		Body:       req.Message,
		To:         req.To,
		TargetType: req.TargetType,
	}
	if err := c.upload.Announce(meta, f, assetPath); err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Msg("closing superseded asset")
	}
	r.log.Info().Str("session", c.sessionID).Str("to", req.To).Str("asset", assetPath).Msg("upload announced")
}

func (r *Router) handleChunk(c *Client, chunk []byte) {
	if !c.upload.Open() {
		r.log.Debug().Str("session", c.sessionID).Int("bytes", len(chunk)).Msg("chunk outside transfer ignored")
		return
	}
	if err := c.upload.Write(chunk); err != nil {
		r.log.Error().Err(err).Str("session", c.sessionID).Msg("writing chunk")
		if r.metrics != nil {
			r.metrics.uploadsAborted.Inc()
		}
		r.sendError(c, err)
		return
	}
	if r.metrics != nil {
		r.metrics.uploadBytes.Add(float64(len(chunk)))
	}
}

func (r *Router) handleFinish(c *Client) {
	written := c.upload.Written()
	msg, err := c.upload.Finish()
	if errors.Is(err, transfer.ErrNoTransfer) {
		r.log.Debug().Str("session", c.sessionID).Msg("finish outside transfer ignored")
		return
	}
	if err != nil {
		r.log.Error().Err(err).Str("session", c.sessionID).Msg("closing asset")
		if r.metrics != nil {
			r.metrics.uploadsAborted.Inc()
		}
		r.sendError(c, err)
		return
	}
	if r.metrics != nil {
		r.metrics.uploadsFinished.Inc()
	}
	r.log.Info().Str("session", c.sessionID).Str("asset", msg.AssetPath).Int64("bytes", written).Msg("upload finished")
	r.post(c, msg)
}

func (r *Router) handleText(c *Client, payload []byte) {
	var req TextRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Msg("invalid text payload")
		return
	}
	r.post(c, chat.Message{
		From:       c.sessionID,
		To:         req.To,
		Body:       req.Message,
		Kind:       chat.KindText,
		TargetType: req.TargetType,
	})
}

func (r *Router) handleMessages(c *Client, payload []byte) {
	var req MessagesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Msg("invalid messages payload")
		return
	}
	if req.TargetType != chat.TargetGroup {
		req.TargetType = chat.TargetUser
	}
	r.send(c, FrameMessage, r.relay.Query(req.To, c.sessionID, req.TargetType))
}

func (r *Router) handleNewGroup(c *Client, payload []byte) {
	var req NewGroupRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Msg("invalid new_group payload")
		return
	}
	if _, err := r.relay.CreateGroup(req.Name, c.sessionID, req.Members); err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Msg("creating group")
		r.sendError(c, err)
		return
	}
	if r.metrics != nil {
		r.metrics.groupsCreated.Inc()
	}
	r.broadcastRoster()
}

// post stores msg, pushes the updated conversation to everyone in it and
// broadcasts the roster.
func (r *Router) post(c *Client, msg chat.Message) {
	stored, err := r.relay.Post(msg)
	if err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Str("to", msg.To).Msg("dropping message")
		return
	}
	if r.metrics != nil {
		r.metrics.messagesStored.WithLabelValues(string(stored.Kind)).Inc()
	}
	r.pushConversation(c, stored)
	r.broadcastRoster()
}

func (r *Router) pushConversation(c *Client, msg chat.Message) {
	history := r.relay.Query(msg.To, msg.From, msg.TargetType)
	frame, err := EncodeFrame(r.codec, FrameMessage, history)
	if err != nil {
		r.log.Error().Err(err).Msg("encoding conversation")
		return
	}

	if msg.TargetType == chat.TargetGroup {
		members, err := r.relay.MemberConns(msg.To)
		if err != nil {
			r.log.Warn().Err(err).Str("to", msg.To).Msg("resolving group members")
			return
		}
		for _, m := range members {
			r.deliver(m.Conn, frame)
		}
		return
	}

	if conn, ok := r.relay.Conn(msg.To); ok {
		r.deliver(conn, frame)
	}
	if msg.To != c.sessionID {
		r.deliver(c, frame)
	}
}

// broadcastRoster sends every live session its own view of the roster.
func (r *Router) broadcastRoster() {
	for _, rcpt := range r.relay.Recipients() {
		frame, err := EncodeFrame(r.codec, FrameNewClient, RosterData{Clients: r.relay.Roster(rcpt.ID)})
		if err != nil {
			r.log.Error().Err(err).Msg("encoding roster")
			continue
		}
		r.deliver(rcpt.Conn, frame)
	}
}

func (r *Router) abortUpload(c *Client, reason string) {
	if !c.upload.Open() {
		return
	}
	if err := c.upload.Abort(); err != nil {
		r.log.Warn().Err(err).Str("session", c.sessionID).Msg("closing aborted asset")
	}
	if r.metrics != nil {
		r.metrics.uploadsAborted.Inc()
	}
	r.log.Info().Str("session", c.sessionID).Str("reason", reason).Msg("upload aborted")
}

func (r *Router) sendError(c *Client, err error) {
	code, ok := errorCode(err)
	if !ok {
		return
	}
	r.send(c, FrameError, ErrorData{Code: code, Message: err.Error()})
}

func (r *Router) send(c *Client, frameType string, data any) {
	frame, err := EncodeFrame(r.codec, frameType, data)
	if err != nil {
		r.log.Error().Err(err).Str("type", frameType).Msg("encoding frame")
		return
	}
	r.deliver(c, frame)
}

func (r *Router) deliver(conn chat.Conn, frame []byte) {
	if conn.Send(frame) {
		if r.metrics != nil {
			r.metrics.framesOut.Inc()
		}
		return
	}
	if c, ok := conn.(*Client); ok {
		r.failed = append(r.failed, c)
	}
}

// takeFailed returns and clears the clients whose buffers overflowed.
func (r *Router) takeFailed() []*Client {
	failed := r.failed
	r.failed = nil
	return failed
}
