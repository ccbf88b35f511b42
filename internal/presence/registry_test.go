package presence

import "testing"

func TestRegistry_JoinLeaveLoad(t *testing.T) {
	r := NewRegistry()

	r.Register(Profile{AgentID: "agent-b", Name: "Bea"})
	r.Register(Profile{AgentID: "agent-a", Name: "Al"})

	r.Join("agent-a", "s1")
	r.Join("agent-a", "s2")
	r.Join("agent-b", "s1")
	r.Join("agent-ghost", "s1") // never registered, must be ignored

	loads := r.AgentsWithLoad()
	if len(loads) != 2 {
		t.Fatalf("want 2 agents, got %d", len(loads))
	}
	if loads[0].AgentID != "agent-a" || loads[1].AgentID != "agent-b" {
		t.Fatalf("loads must sort by agent ID: %+v", loads)
	}
	if loads[0].Sessions != 2 || loads[1].Sessions != 1 {
		t.Fatalf("unexpected session counts: %+v", loads)
	}

	r.Leave("agent-a", "s2")
	loads = r.AgentsWithLoad()
	if loads[0].Sessions != 1 {
		t.Fatalf("leave must drop the room from the count: %+v", loads)
	}
}

func TestRegistry_ViewersSortedAndScoped(t *testing.T) {
	r := NewRegistry()

	r.Register(Profile{AgentID: "agent-b", Name: "Bea"})
	r.Register(Profile{AgentID: "agent-a", Name: "Al"})
	r.Join("agent-b", "s1")
	r.Join("agent-a", "s1")
	r.Join("agent-a", "s2")

	viewers := r.ViewersOf("s1")
	if len(viewers) != 2 || viewers[0].AgentID != "agent-a" || viewers[1].AgentID != "agent-b" {
		t.Fatalf("unexpected viewers for s1: %+v", viewers)
	}
	if got := r.ViewersOf("s2"); len(got) != 1 || got[0].AgentID != "agent-a" {
		t.Fatalf("unexpected viewers for s2: %+v", got)
	}
	if got := r.ViewersOf("s3"); len(got) != 0 {
		t.Fatalf("empty room must have no viewers: %+v", got)
	}
}

func TestRegistry_DropClearsEverything(t *testing.T) {
	r := NewRegistry()

	r.Register(Profile{AgentID: "agent-a", Name: "Al"})
	r.Join("agent-a", "s1")

	r.Drop("agent-a")

	if got := r.AgentsWithLoad(); len(got) != 0 {
		t.Fatalf("dropped agent still present: %+v", got)
	}
	if got := r.ViewersOf("s1"); len(got) != 0 {
		t.Fatalf("dropped agent still viewing: %+v", got)
	}

	// Re-register after drop starts from a clean slate.
	r.Register(Profile{AgentID: "agent-a", Name: "Al"})
	if got := r.AgentsWithLoad(); len(got) != 1 || got[0].Sessions != 0 {
		t.Fatalf("reconnect must start with zero rooms: %+v", got)
	}
}
