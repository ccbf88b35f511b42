package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/presence"
)

func newTestGateway(t *testing.T) (*Gateway, *chat.Service, *Hub, *presence.Registry) {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&chat.Session{}, &chat.Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	hub := NewHub()
	reg := presence.NewRegistry()
	svc := chat.NewService(chat.NewRepo(db), 24*time.Hour, chat.WithPublisher(hub), chat.WithPresence(reg))
	return NewGateway(hub, reg, svc, "test-secret"), svc, hub, reg
}

func adminClient(g *Gateway, agentID, name string) *Client {
	cl := newClient("conn-"+agentID, RoleAdmin, presence.Profile{AgentID: agentID, Name: name}, nil)
	g.hub.Add(cl)
	g.hub.Subscribe(cl, chat.TopicAgents)
	g.presence.Register(cl.profile)
	return cl
}

func visitorClient(g *Gateway, sessionID string) *Client {
	cl := newClient("conn-visitor-"+sessionID, RoleVisitor, presence.Profile{}, nil)
	g.hub.Add(cl)
	g.hub.Subscribe(cl, chat.SessionTopic(sessionID))
	return cl
}

func inbound(t *testing.T, typ string, payload any) Inbound {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Inbound{Type: typ, Payload: raw}
}

func TestGateway_SocketMessageReachesRoomAndAgents(t *testing.T) {
	g, svc, _, _ := newTestGateway(t)

	sess, _, err := svc.CreateOrResume(context.Background(), "visitor-1", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	visitor := visitorClient(g, sess.SessionID)
	admin := adminClient(g, "agent-a", "Al")
	g.handleEvent(admin, inbound(t, EventJoinSession, sessionRef{SessionID: sess.SessionID}))
	drain(visitor) // discard the viewers broadcast from the join
	drain(admin)

	g.handleEvent(visitor, inbound(t, chat.EventMessage, chat.MessageInput{
		SessionID: sess.SessionID,
		Text:      "hi",
	}))

	var sawMessage bool
	for _, env := range drain(admin) {
		if env.Type == chat.EventMessage {
			sawMessage = true
			msg, ok := env.Payload.(*chat.Message)
			if !ok {
				t.Fatalf("unexpected message payload: %+v", env.Payload)
			}
			if msg.Sender != chat.SenderVisitor {
				t.Fatalf("sender must come from the connection role, got %s", msg.Sender)
			}
		}
	}
	if !sawMessage {
		t.Fatalf("admin in the room must receive the message")
	}
}

func TestGateway_UnknownSessionAnswersWithErrorEvent(t *testing.T) {
	g, _, _, _ := newTestGateway(t)

	visitor := visitorClient(g, "01NOPE0000000000000000000000")

	g.handleEvent(visitor, inbound(t, chat.EventMessage, chat.MessageInput{
		SessionID: "01NOPE0000000000000000000000",
		Text:      "hello?",
	}))

	got := drain(visitor)
	if len(got) != 1 || got[0].Type != EventError {
		t.Fatalf("sender must get an error event, got %+v", got)
	}
	ev, ok := got[0].Payload.(errorEvent)
	if !ok || ev.Code != 40401 {
		t.Fatalf("unexpected error payload: %+v", got[0].Payload)
	}
}

func TestGateway_TypingRelayedToRoomNotSender(t *testing.T) {
	g, svc, _, _ := newTestGateway(t)

	sess, _, _ := svc.CreateOrResume(context.Background(), "visitor-2", nil)

	visitor := visitorClient(g, sess.SessionID)
	admin := adminClient(g, "agent-a", "Al")
	g.handleEvent(admin, inbound(t, EventJoinSession, sessionRef{SessionID: sess.SessionID}))
	drain(visitor)
	drain(admin)

	g.handleEvent(admin, inbound(t, EventTyping, typingInbound{SessionID: sess.SessionID, IsTyping: true}))

	got := drain(visitor)
	if len(got) != 1 || got[0].Type != EventTyping {
		t.Fatalf("visitor must see the typing indicator, got %+v", got)
	}
	ev := got[0].Payload.(typingEvent)
	if ev.Sender != chat.SenderAdmin || ev.Profile == nil || ev.Profile.Name != "Al" {
		t.Fatalf("typing event must carry the agent profile: %+v", ev)
	}
	if got := drain(admin); len(got) != 0 {
		t.Fatalf("typist must not see its own indicator: %+v", got)
	}
}

func TestGateway_JoinAndLeaveBroadcastViewers(t *testing.T) {
	g, svc, _, _ := newTestGateway(t)

	sess, _, _ := svc.CreateOrResume(context.Background(), "visitor-3", nil)
	visitor := visitorClient(g, sess.SessionID)
	admin := adminClient(g, "agent-a", "Al")

	g.handleEvent(admin, inbound(t, EventJoinSession, sessionRef{SessionID: sess.SessionID}))

	got := drain(visitor)
	if len(got) != 1 || got[0].Type != EventViewers {
		t.Fatalf("join must broadcast viewers, got %+v", got)
	}
	ev := got[0].Payload.(viewersEvent)
	if len(ev.Viewers) != 1 || ev.Viewers[0].AgentID != "agent-a" {
		t.Fatalf("unexpected viewers after join: %+v", ev)
	}

	g.handleEvent(admin, inbound(t, EventLeaveSession, sessionRef{SessionID: sess.SessionID}))

	got = drain(visitor)
	if len(got) != 1 || got[0].Type != EventViewers {
		t.Fatalf("leave must broadcast viewers, got %+v", got)
	}
	if ev := got[0].Payload.(viewersEvent); len(ev.Viewers) != 0 {
		t.Fatalf("viewer list must empty on leave: %+v", ev)
	}
}

func TestGateway_DisconnectClearsTypingAndPresence(t *testing.T) {
	g, svc, hub, reg := newTestGateway(t)

	sess, _, _ := svc.CreateOrResume(context.Background(), "visitor-4", nil)
	visitor := visitorClient(g, sess.SessionID)
	admin := adminClient(g, "agent-a", "Al")

	g.handleEvent(admin, inbound(t, EventJoinSession, sessionRef{SessionID: sess.SessionID}))
	g.handleEvent(admin, inbound(t, EventTyping, typingInbound{SessionID: sess.SessionID, IsTyping: true}))
	drain(visitor)

	g.disconnect(admin)

	var sawTypingOff, sawViewers bool
	for _, env := range drain(visitor) {
		switch env.Type {
		case EventTyping:
			if ev := env.Payload.(typingEvent); !ev.IsTyping {
				sawTypingOff = true
			}
		case EventViewers:
			if ev := env.Payload.(viewersEvent); len(ev.Viewers) == 0 {
				sawViewers = true
			}
		}
	}
	if !sawTypingOff {
		t.Fatalf("disconnect must cancel the agent's typing indicator")
	}
	if !sawViewers {
		t.Fatalf("disconnect must refresh the room's viewer list")
	}

	if loads := reg.AgentsWithLoad(); len(loads) != 0 {
		t.Fatalf("presence must drop the agent on disconnect: %+v", loads)
	}
	if n := hub.Subscribers(chat.TopicAgents); n != 0 {
		t.Fatalf("disconnected agent still subscribed to the agents topic")
	}
}

func TestGateway_EvictedAdminStillCleanedUpOnDisconnect(t *testing.T) {
	g, svc, hub, reg := newTestGateway(t)

	sess, _, _ := svc.CreateOrResume(context.Background(), "visitor-5", nil)
	visitor := visitorClient(g, sess.SessionID)
	admin := adminClient(g, "agent-a", "Al")
	g.handleEvent(admin, inbound(t, EventJoinSession, sessionRef{SessionID: sess.SessionID}))
	drain(visitor)
	drain(admin) // discard the viewers broadcast from the join

	// Stall the admin's queue and let a broadcast evict it.
	for i := 0; i < sendBuffer; i++ {
		admin.send <- Envelope{Type: "message"}
	}
	hub.Publish(chat.SessionTopic(sess.SessionID), chat.EventMessage, "overflow")
	drain(visitor)
	if hub.Subscribers(chat.TopicAgents) != 0 {
		t.Fatalf("stalled admin must be evicted from every topic")
	}

	// The read pump is still alive: a late error event must be dropped,
	// not panic on the closed queue.
	g.handleEvent(admin, inbound(t, chat.EventMessage, chat.MessageInput{
		SessionID: "01NOPE0000000000000000000000",
		Text:      "late",
	}))

	g.disconnect(admin)

	if loads := reg.AgentsWithLoad(); len(loads) != 0 {
		t.Fatalf("eviction must not leave a ghost agent in presence: %+v", loads)
	}
	var sawViewers bool
	for _, env := range drain(visitor) {
		if env.Type == EventViewers {
			if ev := env.Payload.(viewersEvent); len(ev.Viewers) == 0 {
				sawViewers = true
			}
		}
	}
	if !sawViewers {
		t.Fatalf("room must learn the evicted admin is gone")
	}
}
