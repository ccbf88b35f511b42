package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/staylight/livechat/internal/auth"
	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/config"
)

func newTestHandler(t *testing.T) (*Handler, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&chat.Session{}, &chat.Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	svc := chat.NewService(chat.NewRepo(db), 24*time.Hour)
	h := NewHandler(db, config.Config{JWTSecret: "test-secret"}, svc, nil)

	r := gin.New()
	r.POST("/chat/sessions", h.CreateOrResumeSession)
	r.PATCH("/chat/sessions/:session_id/identity", h.BindIdentity)
	r.GET("/chat/sessions/:session_id/messages", h.History)
	r.POST("/chat/sessions/:session_id/messages", h.AppendMessage)
	return h, r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, w.Body.String())
	}
	return w, env
}

func TestCreateOrResumeSession_Idempotent(t *testing.T) {
	_, r := newTestHandler(t)

	w, env := doJSON(t, r, http.MethodPost, "/chat/sessions", gin.H{"visitor_id": "v-1"})
	if w.Code != http.StatusOK || env.Code != 0 {
		t.Fatalf("create failed: %d %s", w.Code, env.Message)
	}
	var first struct {
		Session chat.Session `json:"session"`
		Resumed bool         `json:"resumed"`
	}
	if err := json.Unmarshal(env.Data, &first); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if first.Resumed {
		t.Fatalf("first post must create")
	}

	_, env = doJSON(t, r, http.MethodPost, "/chat/sessions", gin.H{"visitor_id": "v-1"})
	var second struct {
		Session chat.Session `json:"session"`
		Resumed bool         `json:"resumed"`
	}
	if err := json.Unmarshal(env.Data, &second); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !second.Resumed || second.Session.SessionID != first.Session.SessionID {
		t.Fatalf("second post must resume the same session")
	}
}

func TestAppendAndHistoryRoundTrip(t *testing.T) {
	_, r := newTestHandler(t)

	_, env := doJSON(t, r, http.MethodPost, "/chat/sessions", gin.H{"visitor_id": "v-2"})
	var created struct {
		Session chat.Session `json:"session"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	sid := created.Session.SessionID

	w, env := doJSON(t, r, http.MethodPost, "/chat/sessions/"+sid+"/messages", gin.H{
		"sender": "visitor",
		"text":   "hello",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("append failed: %d %s", w.Code, env.Message)
	}

	w, env = doJSON(t, r, http.MethodGet, "/chat/sessions/"+sid+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history failed: %d %s", w.Code, env.Message)
	}
	var hist struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(env.Data, &hist); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(hist.Messages) != 1 || hist.Messages[0].Text != "hello" {
		t.Fatalf("unexpected history: %+v", hist.Messages)
	}
}

func TestAppendMessage_ErrorMapping(t *testing.T) {
	_, r := newTestHandler(t)

	// Unknown session.
	w, env := doJSON(t, r, http.MethodPost, "/chat/sessions/01NOPE0000000000000000000000/messages", gin.H{
		"sender": "visitor",
		"text":   "hi",
	})
	if w.Code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("want 404/40401, got %d/%d", w.Code, env.Code)
	}

	// Invalid message on a real session.
	_, created := doJSON(t, r, http.MethodPost, "/chat/sessions", gin.H{"visitor_id": "v-3"})
	var data struct {
		Session chat.Session `json:"session"`
	}
	if err := json.Unmarshal(created.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	w, env = doJSON(t, r, http.MethodPost, "/chat/sessions/"+data.Session.SessionID+"/messages", gin.H{
		"sender": "visitor",
	})
	if w.Code != http.StatusBadRequest || env.Code != 10010 {
		t.Fatalf("want 400/10010, got %d/%d", w.Code, env.Code)
	}
}

func TestAppendMessage_SenderDerivedFromAuthNotBody(t *testing.T) {
	_, r := newTestHandler(t)

	_, created := doJSON(t, r, http.MethodPost, "/chat/sessions", gin.H{"visitor_id": "v-4"})
	var data struct {
		Session chat.Session `json:"session"`
	}
	if err := json.Unmarshal(created.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	sid := data.Session.SessionID

	// Anonymous caller claiming to be an admin stays a visitor.
	w, env := doJSON(t, r, http.MethodPost, "/chat/sessions/"+sid+"/messages", gin.H{
		"sender": "admin",
		"text":   "i am totally staff",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("append failed: %d %s", w.Code, env.Message)
	}

	// The same body with a real agent token is an admin message.
	token, err := auth.SignJWT("01AGENT000000000000000000000", "Al", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(gin.H{"text": "actual staff"}); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/chat/sessions/"+sid+"/messages", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authed append failed: %d %s", rec.Code, rec.Body.String())
	}

	_, env = doJSON(t, r, http.MethodGet, "/chat/sessions/"+sid+"/messages", nil)
	var hist struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(env.Data, &hist); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(hist.Messages) != 2 {
		t.Fatalf("want 2 messages, got %d", len(hist.Messages))
	}
	if hist.Messages[0].Sender != chat.SenderVisitor {
		t.Fatalf("unauthenticated append must be a visitor message, got %s", hist.Messages[0].Sender)
	}
	if hist.Messages[1].Sender != chat.SenderAdmin {
		t.Fatalf("JWT-backed append must be an admin message, got %s", hist.Messages[1].Sender)
	}
}

func TestBindIdentity_NotFound(t *testing.T) {
	_, r := newTestHandler(t)

	w, env := doJSON(t, r, http.MethodPatch, "/chat/sessions/01NOPE0000000000000000000000/identity", gin.H{
		"customer_email": "x@example.com",
	})
	if w.Code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("want 404/40401, got %d/%d", w.Code, env.Code)
	}
}
