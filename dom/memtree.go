package dom

import (
	"sync"
	"time"
)

// MemTree is an in-memory Tree. It backs the engine's test suites and
// headless pipelines where no live document exists. The host side of the
// contract (detach, reinsert, frame responders) is scriptable so tests can
// reproduce the asynchronous behavior of a real document.
type MemTree struct {
	mu        sync.Mutex
	nodes     []*MemNode // document order
	nextID    NodeID
	observers map[int]func([]Mutation)
	nextObs   int
}

// NewMemTree creates an empty tree. Root is NodeID 0.
func NewMemTree() *MemTree {
	return &MemTree{nextID: 1, observers: make(map[int]func([]Mutation))}
}

// AddEmbed appends an embed region of the given kind in document order.
func (t *MemTree) AddEmbed(kind string) *MemNode {
	t.mu.Lock()
	n := &MemNode{
		tree:     t,
		id:       t.nextID,
		kind:     kind,
		attrs:    make(map[string]string),
		actions:  make(map[string]func()),
		attached: true,
	}
	t.nextID++
	t.nodes = append(t.nodes, n)
	t.mu.Unlock()
	return n
}

func (t *MemTree) FindEmbedNodes(root NodeID) []Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.attached {
			out = append(out, n)
		}
	}
	return out
}

func (t *MemTree) IsAttached(n Node) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	mn, ok := n.(*MemNode)
	return ok && mn.attached
}

func (t *MemTree) Observe(root NodeID, fn func([]Mutation)) (stop func()) {
	t.mu.Lock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

func (t *MemTree) InnerFrameHeight(n Node) (int, bool) {
	t.mu.Lock()
	mn, ok := n.(*MemNode)
	if !ok || mn.innerHeights == nil {
		t.mu.Unlock()
		return 0, false
	}
	sample := mn.samples
	mn.samples++
	f := mn.innerHeights
	t.mu.Unlock()
	return f(sample)
}

func (t *MemTree) DeliverPort(n Node, guest *GuestPort) error {
	t.mu.Lock()
	mn := n.(*MemNode)
	mn.deliveries = append(mn.deliveries, time.Now())
	delivery := len(mn.deliveries)
	resp := mn.responder
	t.mu.Unlock()

	if resp == nil {
		return nil // frame never answers; caller times out
	}
	go func() {
		if h, ok := resp(delivery); ok {
			guest.Report(h)
		}
	}()
	return nil
}

// emit delivers a mutation batch to all observers synchronously.
func (t *MemTree) emit(batch []Mutation) {
	t.mu.Lock()
	obs := make([]func([]Mutation), 0, len(t.observers))
	for _, fn := range t.observers {
		obs = append(obs, fn)
	}
	t.mu.Unlock()
	for _, fn := range obs {
		fn(batch)
	}
}

// MemNode is an embed region inside a MemTree.
type MemNode struct {
	tree     *MemTree
	id       NodeID
	kind     string
	attrs    map[string]string
	height   int
	frameSrc string
	hasFrame bool
	content  string
	outer    string
	attached bool
	actions  map[string]func()

	// Scripted host behavior.
	responder    func(delivery int) (height int, respond bool)
	innerHeights func(sample int) (height int, ok bool)
	samples      int
	deliveries   []time.Time
	reloads      int
}

func (n *MemNode) ID() NodeID   { return n.id }
func (n *MemNode) Kind() string { return n.kind }

func (n *MemNode) Attr(name string) string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.attrs[name]
}

func (n *MemNode) SetAttr(name, value string) {
	n.tree.mu.Lock()
	n.attrs[name] = value
	n.tree.mu.Unlock()
}

func (n *MemNode) Height() int {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.height
}

func (n *MemNode) SetHeight(px int) {
	n.tree.mu.Lock()
	n.height = px
	n.tree.mu.Unlock()
}

func (n *MemNode) FrameSrc() string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if !n.hasFrame {
		return ""
	}
	return n.frameSrc
}

func (n *MemNode) SetFrameSrc(src string) {
	n.tree.mu.Lock()
	if n.hasFrame && src == "" && n.frameSrc != "" {
		n.reloads++
	}
	n.frameSrc = src
	n.hasFrame = true
	n.tree.mu.Unlock()
}

func (n *MemNode) InsertFrame(src string) {
	n.tree.mu.Lock()
	n.frameSrc = src
	n.hasFrame = true
	n.tree.mu.Unlock()
}

func (n *MemNode) RemoveFrame() {
	n.tree.mu.Lock()
	n.frameSrc = ""
	n.hasFrame = false
	n.tree.mu.Unlock()
}

func (n *MemNode) SetContent(markup string) {
	n.tree.mu.Lock()
	n.content = markup
	n.tree.mu.Unlock()
}

func (n *MemNode) ClearContent() {
	n.tree.mu.Lock()
	n.content = ""
	n.actions = make(map[string]func())
	n.tree.mu.Unlock()
}

func (n *MemNode) OuterHTML() string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.outer != "" {
		return n.outer
	}
	return n.content
}

func (n *MemNode) WireAction(name string, fn func()) {
	n.tree.mu.Lock()
	n.actions[name] = fn
	n.tree.mu.Unlock()
}

// ---------- Host-side scripting (test-facing) ----------

// SetResponder scripts the frame's handshake behavior. delivery is 1-based:
// a responder that only answers the second delivery models a frame that
// needs a reload before it reports.
func (n *MemNode) SetResponder(fn func(delivery int) (int, bool)) {
	n.tree.mu.Lock()
	n.responder = fn
	n.tree.mu.Unlock()
}

// SetInnerHeights scripts the nested sub-frame height signal by sample index.
func (n *MemNode) SetInnerHeights(fn func(sample int) (int, bool)) {
	n.tree.mu.Lock()
	n.innerHeights = fn
	n.tree.mu.Unlock()
}

// SetOuterHTML overrides the markup returned by OuterHTML.
func (n *MemNode) SetOuterHTML(html string) {
	n.tree.mu.Lock()
	n.outer = html
	n.tree.mu.Unlock()
}

// Content returns the currently rendered markup.
func (n *MemNode) Content() string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.content
}

// Detach removes the node from the tree, as the host may do at any time.
func (n *MemNode) Detach() {
	n.tree.mu.Lock()
	n.attached = false
	n.tree.mu.Unlock()
	n.tree.emit([]Mutation{{Op: OpRemove, Node: n.id}})
}

// Reinsert models the host re-inserting content the engine already
// replaced: the frame comes back and observers are notified.
func (n *MemNode) Reinsert(frameSrc string) {
	n.tree.mu.Lock()
	n.attached = true
	n.frameSrc = frameSrc
	n.hasFrame = frameSrc != ""
	n.content = ""
	n.actions = make(map[string]func())
	n.tree.mu.Unlock()
	n.tree.emit([]Mutation{{Op: OpInsert, Node: n.id}})
}

// EmitAttrMutation reports a host-side attribute change to observers.
func (n *MemNode) EmitAttrMutation(name string) {
	n.tree.emit([]Mutation{{Op: OpAttr, Node: n.id, Name: name}})
}

// TriggerAction invokes a wired user action, if present.
func (n *MemNode) TriggerAction(name string) {
	n.tree.mu.Lock()
	fn := n.actions[name]
	n.tree.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliveries returns the times at which handshake ports were delivered.
func (n *MemNode) Deliveries() []time.Time {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	out := make([]time.Time, len(n.deliveries))
	copy(out, n.deliveries)
	return out
}

// FrameReloads counts forced frame reloads (source cleared and restored).
func (n *MemNode) FrameReloads() int {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.reloads
}
