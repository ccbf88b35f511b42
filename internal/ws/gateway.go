package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/staylight/livechat/internal/auth"
	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/common"
	"github.com/staylight/livechat/internal/logging"
	"github.com/staylight/livechat/internal/presence"
)

// Inbound is a client-submitted event before its payload is decoded.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event names. message and session_updated are shared with the request path
// (see chat package); the rest are gateway-only relays.
const (
	EventJoinSession  = "join_session"
	EventLeaveSession = "leave_session"
	EventTyping       = "typing"
	EventViewers      = "viewers"
	EventError        = "error"
)

type sessionRef struct {
	SessionID string `json:"session_id"`
}

type typingInbound struct {
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

type typingEvent struct {
	SessionID string            `json:"session_id"`
	Sender    chat.Sender       `json:"sender"`
	Profile   *presence.Profile `json:"profile,omitempty"`
	IsTyping  bool              `json:"is_typing"`
}

type viewersEvent struct {
	SessionID string             `json:"session_id"`
	Viewers   []presence.Profile `json:"viewers"`
}

type errorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Gateway owns the socket surface: handshake, event dispatch, presence
// lifecycle and typing state. It is the only component allowed to mutate
// the presence registry.
type Gateway struct {
	hub       *Hub
	presence  *presence.Registry
	svc       *chat.Service
	jwtSecret string
	upgrader  websocket.Upgrader

	typingMu sync.Mutex
	// sessionID -> agentID -> profile, held only while the agent's client
	// reports is_typing=true. Visitor typing is relay-only.
	typing map[string]map[string]presence.Profile
}

func NewGateway(hub *Hub, reg *presence.Registry, svc *chat.Service, jwtSecret string) *Gateway {
	return &Gateway{
		hub:       hub,
		presence:  reg,
		svc:       svc,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		typing: make(map[string]map[string]presence.Profile),
	}
}

// HandleWS upgrades the connection. Handshake metadata comes in as query
// params: role=admin needs a valid agent JWT; role=visitor needs the session
// ID it wants to join.
func (g *Gateway) HandleWS(c *gin.Context) {
	role := Role(c.Query("role"))

	var profile presence.Profile
	var sessionID string

	switch role {
	case RoleAdmin:
		claims, err := auth.ParseJWT(c.Query("token"), g.jwtSecret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		profile = presence.Profile{
			AgentID:   claims.AgentID,
			Name:      claims.AgentName,
			AvatarURL: c.Query("avatar_url"),
		}
	case RoleVisitor:
		sessionID = c.Query("session_id")
		if sessionID == "" {
			common.Fail(c, http.StatusBadRequest, 10002, "session_id required")
			return
		}
	default:
		common.Fail(c, http.StatusBadRequest, 10001, "role must be visitor or admin")
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := newClient(uuid.New().String(), role, profile, conn)
	g.hub.Add(cl)

	switch role {
	case RoleAdmin:
		g.hub.Subscribe(cl, chat.TopicAgents)
		g.presence.Register(profile)
		logging.Info().Str("agent_id", profile.AgentID).Msg("agent connected")
	case RoleVisitor:
		g.hub.Subscribe(cl, chat.SessionTopic(sessionID))
	}

	go cl.writePump()
	cl.readPump(g.handleEvent)
	g.disconnect(cl)
}

func (g *Gateway) handleEvent(cl *Client, in Inbound) {
	switch in.Type {
	case EventJoinSession:
		var p sessionRef
		if json.Unmarshal(in.Payload, &p) != nil || p.SessionID == "" {
			return
		}
		g.joinSession(cl, p.SessionID)

	case EventLeaveSession:
		var p sessionRef
		if json.Unmarshal(in.Payload, &p) != nil || p.SessionID == "" {
			return
		}
		g.leaveSession(cl, p.SessionID)

	case chat.EventMessage:
		var p chat.MessageInput
		if json.Unmarshal(in.Payload, &p) != nil {
			cl.trySend(Envelope{Type: EventError, Payload: errorEvent{Code: 10001, Message: "malformed message payload"}})
			return
		}
		g.handleMessage(cl, p)

	case EventTyping:
		var p typingInbound
		if json.Unmarshal(in.Payload, &p) != nil || p.SessionID == "" {
			return
		}
		g.handleTyping(cl, p)
	}
}

func (g *Gateway) joinSession(cl *Client, sessionID string) {
	g.hub.Subscribe(cl, chat.SessionTopic(sessionID))
	if cl.role == RoleAdmin {
		g.presence.Join(cl.profile.AgentID, sessionID)
		g.broadcastViewers(sessionID)
	}
}

func (g *Gateway) leaveSession(cl *Client, sessionID string) {
	g.hub.Unsubscribe(cl, chat.SessionTopic(sessionID))
	if cl.role == RoleAdmin {
		g.presence.Leave(cl.profile.AgentID, sessionID)
		if g.clearTyping(sessionID, cl.profile.AgentID) {
			g.relayTypingOff(sessionID, cl)
		}
		g.broadcastViewers(sessionID)
	}
}

// handleMessage persists and fans out through the same service path as the
// HTTP fallback. Unlike the fallback, failures answer with an error event
// rather than an HTTP status; silently dropping them would leave the sender
// staring at an optimistic bubble that never confirms.
func (g *Gateway) handleMessage(cl *Client, in chat.MessageInput) {
	in.Sender = chat.SenderVisitor
	if cl.role == RoleAdmin {
		in.Sender = chat.SenderAdmin
	}

	_, _, err := g.svc.AppendMessage(context.Background(), in)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrNotFound):
		cl.trySend(Envelope{Type: EventError, Payload: errorEvent{Code: 40401, Message: "session not found"}})
	case errors.Is(err, chat.ErrInvalidMessage):
		cl.trySend(Envelope{Type: EventError, Payload: errorEvent{Code: 10010, Message: err.Error()}})
	default:
		logging.Error().Err(err).Str("session_id", in.SessionID).Msg("socket message append failed")
		cl.trySend(Envelope{Type: EventError, Payload: errorEvent{Code: 50001, Message: "internal error"}})
	}
}

// handleTyping relays the indicator to everyone else in the room, tagged
// with the sender's role so each side renders the right name.
func (g *Gateway) handleTyping(cl *Client, p typingInbound) {
	ev := typingEvent{
		SessionID: p.SessionID,
		Sender:    chat.SenderVisitor,
		IsTyping:  p.IsTyping,
	}
	if cl.role == RoleAdmin {
		ev.Sender = chat.SenderAdmin
		prof := cl.profile
		ev.Profile = &prof
		if p.IsTyping {
			g.setTyping(p.SessionID, cl.profile)
		} else {
			g.clearTyping(p.SessionID, cl.profile.AgentID)
		}
	}
	g.hub.PublishExcept(chat.SessionTopic(p.SessionID), EventTyping, ev, cl)
}

// disconnect runs after the read pump exits. Admin connections additionally
// shed presence and any typing markers they left behind, so no room is stuck
// showing a ghost viewer or a perpetual "typing" indicator. The viewed
// sessions come from the presence registry, not the hub: a client the hub
// evicted for a full buffer has no subscriptions left, but its presence
// entry still must be cleaned up and its rooms notified.
func (g *Gateway) disconnect(cl *Client) {
	g.hub.Remove(cl)

	if cl.role != RoleAdmin {
		return
	}

	agentID := cl.profile.AgentID
	for _, sessionID := range g.typingSessions(agentID) {
		g.clearTyping(sessionID, agentID)
		g.relayTypingOff(sessionID, cl)
	}

	viewed := g.presence.SessionsOf(agentID)
	g.presence.Drop(agentID)

	for _, sessionID := range viewed {
		g.broadcastViewers(sessionID)
	}
	logging.Info().Str("agent_id", agentID).Msg("agent disconnected")
}

func (g *Gateway) broadcastViewers(sessionID string) {
	g.hub.Publish(chat.SessionTopic(sessionID), EventViewers, viewersEvent{
		SessionID: sessionID,
		Viewers:   g.presence.ViewersOf(sessionID),
	})
}

func (g *Gateway) relayTypingOff(sessionID string, cl *Client) {
	prof := cl.profile
	g.hub.PublishExcept(chat.SessionTopic(sessionID), EventTyping, typingEvent{
		SessionID: sessionID,
		Sender:    chat.SenderAdmin,
		Profile:   &prof,
		IsTyping:  false,
	}, cl)
}

func (g *Gateway) setTyping(sessionID string, prof presence.Profile) {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()
	if g.typing[sessionID] == nil {
		g.typing[sessionID] = make(map[string]presence.Profile)
	}
	g.typing[sessionID][prof.AgentID] = prof
}

func (g *Gateway) clearTyping(sessionID, agentID string) bool {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()
	agents, ok := g.typing[sessionID]
	if !ok {
		return false
	}
	if _, ok := agents[agentID]; !ok {
		return false
	}
	delete(agents, agentID)
	if len(agents) == 0 {
		delete(g.typing, sessionID)
	}
	return true
}

func (g *Gateway) typingSessions(agentID string) []string {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()
	var out []string
	for sessionID, agents := range g.typing {
		if _, ok := agents[agentID]; ok {
			out = append(out, sessionID)
		}
	}
	return out
}
