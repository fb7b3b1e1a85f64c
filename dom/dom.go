// Package dom defines the document tree contract the reconciliation engine
// operates against. The engine never touches a concrete document directly:
// it sees embed regions as Node values handed out by a Tree, and all tree
// structure, attributes, and frame management go through these interfaces.
//
// Two implementations ship with the module: MemTree (in-memory, used by
// tests and headless pipelines) and RodTree (CDP-backed, driving a live
// browser page).
package dom

// NodeID identifies a node for the lifetime of its tree. IDs are assigned
// by the tree and never reused, so side tables keyed by NodeID stay valid
// across detach/reinsert cycles of the same region.
type NodeID int64

// Node is a single embed region: a document subtree with a type tag that
// owns at most one foreign content frame at a time.
type Node interface {
	ID() NodeID

	// Kind is the embed type tag ("status", "video", ...). It classifies
	// which negotiation strategy or substitution path applies.
	Kind() string

	Attr(name string) string
	SetAttr(name, value string)

	// Height is the currently applied visual height in pixels, 0 if none
	// has been applied yet.
	Height() int
	SetHeight(px int)

	// FrameSrc returns the foreign frame's source locator, or "" when the
	// region holds no frame.
	FrameSrc() string
	// SetFrameSrc replaces the frame's source locator in place.
	SetFrameSrc(src string)
	// InsertFrame creates a foreign frame pointed at src, replacing any
	// existing frame.
	InsertFrame(src string)
	// RemoveFrame drops the foreign frame, if any.
	RemoveFrame()

	// SetContent replaces the region's rendered content with markup.
	SetContent(markup string)
	ClearContent()

	// OuterHTML returns the region's full markup, used as a last resort
	// for resource reference extraction.
	OuterHTML() string

	// WireAction registers a named user action (e.g. "expand") on the
	// region's current content. Re-wiring the same name replaces the
	// previous handler.
	WireAction(name string, fn func())
}

// MutationOp classifies a host-side mutation record.
type MutationOp string

const (
	OpInsert MutationOp = "insert"
	OpRemove MutationOp = "remove"
	OpAttr   MutationOp = "attr"
)

// Mutation is one batched change record delivered to observers. Node is
// the enclosing embed region's ID, or 0 when the change happened outside
// any tracked region.
type Mutation struct {
	Op   MutationOp
	Node NodeID
	Name string // attribute name for OpAttr
}

// Tree is the document tree adapter.
type Tree interface {
	// FindEmbedNodes enumerates embed regions under root in document order.
	FindEmbedNodes(root NodeID) []Node

	// IsAttached reports whether the node is still part of the tree. The
	// host owns the tree and may detach nodes at any time.
	IsAttached(n Node) bool

	// Observe delivers batched mutation records for the subtree under root
	// until the returned stop function is called.
	Observe(root NodeID, fn func([]Mutation)) (stop func())

	// InnerFrameHeight samples the indirect height signal of a nested
	// same-origin sub-frame. ok is false while the signal is unavailable
	// (e.g. during initial paint).
	InnerFrameHeight(n Node) (height int, ok bool)

	// DeliverPort transfers the guest endpoint of a handshake pipe into
	// the node's foreign frame via a single initiation message. Whether
	// the frame ever reports back is the frame's business; the caller
	// races the host endpoint against its own timeout.
	DeliverPort(n Node, guest *GuestPort) error
}
