// Package nodestate holds the engine-owned state side tables. The source
// document encodes nothing about negotiation or substitution progress;
// state lives here, keyed by node identity, so the host can churn the tree
// without corrupting the engine's view.
package nodestate

import (
	"sync"

	"github.com/mosbree/embedkeeper/dom"
)

// State is the negotiation state of an embed node.
type State int

const (
	Uninitialized State = iota
	Pending
	WidgetOK
	Measured
	Reloading
	Fallback
)

var stateNames = map[State]string{
	Uninitialized: "uninitialized",
	Pending:       "pending",
	WidgetOK:      "widget-api-ok",
	Measured:      "measured",
	Reloading:     "reloading",
	Fallback:      "fallback",
}

func (s State) String() string { return stateNames[s] }

// Terminal reports whether the state machine is finished for this node.
func (s State) Terminal() bool {
	return s == WidgetOK || s == Measured || s == Fallback
}

// InFlight reports whether a negotiation is currently running.
func (s State) InFlight() bool {
	return s == Pending || s == Reloading
}

// States is the negotiation state table.
type States struct {
	mu sync.Mutex
	m  map[dom.NodeID]State
}

func NewStates() *States {
	return &States{m: make(map[dom.NodeID]State)}
}

func (t *States) Get(id dom.NodeID) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[id]
}

func (t *States) Set(id dom.NodeID, s State) {
	t.mu.Lock()
	t.m[id] = s
	t.mu.Unlock()
}

// Begin transitions uninitialized → pending atomically. It returns false
// when the node is already in flight or terminal, making Negotiate calls
// idempotent under concurrent dispatch.
func (t *States) Begin(id dom.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m[id] != Uninitialized {
		return false
	}
	t.m[id] = Pending
	return true
}

// Reset clears a node's state (used by forced re-reconciliation).
func (t *States) Reset(id dom.NodeID) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}

// Phase is the lite-card substitution phase of an embed node.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseLoading
	PhaseDone
	// PhaseExpanded marks a node the user expanded back to the original
	// embed. The mutation guard must never undo it.
	PhaseExpanded
)

var phaseNames = map[Phase]string{
	PhaseNone:     "none",
	PhaseLoading:  "loading",
	PhaseDone:     "done",
	PhaseExpanded: "expanded",
}

func (p Phase) String() string { return phaseNames[p] }

// Phases is the substitution phase table.
type Phases struct {
	mu sync.Mutex
	m  map[dom.NodeID]Phase
}

func NewPhases() *Phases {
	return &Phases{m: make(map[dom.NodeID]Phase)}
}

func (t *Phases) Get(id dom.NodeID) Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[id]
}

func (t *Phases) Set(id dom.NodeID, p Phase) {
	t.mu.Lock()
	t.m[id] = p
	t.mu.Unlock()
}

// BeginLoading transitions none → loading atomically, returning false when
// the node is already loading, done, or expanded.
func (t *Phases) BeginLoading(id dom.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m[id] != PhaseNone {
		return false
	}
	t.m[id] = PhaseLoading
	return true
}

// Reset clears a node's phase. Expanded nodes are never reset implicitly;
// callers decide.
func (t *Phases) Reset(id dom.NodeID) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}
