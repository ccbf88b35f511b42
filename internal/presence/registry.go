// Package presence tracks which support agents are connected and which
// session rooms each one is viewing. Process-local and advisory only: a
// restart clears it, and nothing about message delivery depends on it.
package presence

import (
	"sort"
	"sync"

	"github.com/staylight/livechat/internal/chat"
)

// Profile is the lightweight agent identity shown in viewer and typing
// indicators.
type Profile struct {
	AgentID   string `json:"agent_id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type entry struct {
	profile  Profile
	sessions map[string]struct{}
}

// Registry is an injectable presence map. It must be mutated only from the
// gateway's connection lifecycle (connect, join, leave, disconnect) so it
// can never diverge from the set of live connections.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*entry)}
}

// Register ensures an entry exists for the agent. Called on the agent's
// first realtime connection.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[p.AgentID]; !ok {
		r.agents[p.AgentID] = &entry{profile: p, sessions: make(map[string]struct{})}
		return
	}
	r.agents[p.AgentID].profile = p
}

// Join records that the agent is viewing a session room.
func (r *Registry) Join(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return
	}
	e.sessions[sessionID] = struct{}{}
}

// Leave removes a session from the agent's room set.
func (r *Registry) Leave(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[agentID]; ok {
		delete(e.sessions, sessionID)
	}
}

// Drop removes the agent entirely. Called on disconnect; a reconnect
// re-establishes presence from scratch.
func (r *Registry) Drop(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// AgentsWithLoad snapshots every present agent with the number of session
// rooms it is viewing, sorted by agent ID for a stable auto-pick order.
func (r *Registry) AgentsWithLoad() []chat.AgentLoad {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]chat.AgentLoad, 0, len(r.agents))
	for id, e := range r.agents {
		out = append(out, chat.AgentLoad{
			AgentID:  id,
			Name:     e.profile.Name,
			Sessions: len(e.sessions),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// SessionsOf returns the sessions an agent is currently viewing, sorted.
// Disconnect cleanup reads this rather than the hub's subscription state,
// which may already be gone if the connection was evicted.
func (r *Registry) SessionsOf(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.sessions))
	for sessionID := range e.sessions {
		out = append(out, sessionID)
	}
	sort.Strings(out)
	return out
}

// ViewersOf returns the profiles of agents currently viewing a session,
// sorted by agent ID.
func (r *Registry) ViewersOf(sessionID string) []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Profile
	for _, e := range r.agents {
		if _, ok := e.sessions[sessionID]; ok {
			out = append(out, e.profile)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
