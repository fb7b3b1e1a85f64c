// Package negotiate implements per-embed height discovery: an ordered set
// of strategies that ends in exactly one terminal state per node. Channel
// failures, rejections, and timeouts never escape; they degrade to the
// next strategy until the heuristic fallback catches everything.
package negotiate

import (
	"context"
	"log/slog"
	"time"

	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/heights"
	"github.com/mosbree/embedkeeper/nodestate"
)

// DefaultHandshakeTimeout bounds one handshake round trip.
const DefaultHandshakeTimeout = 5 * time.Second

// WidgetAPI is the optional provider-level rendering capability. When the
// provider's own script is present it sizes the embed itself; the engine
// only delegates.
type WidgetAPI interface {
	Load(ctx context.Context, n dom.Node) error
}

// Options tunes a Negotiator.
type Options struct {
	// HandshakeTimeout is the per-attempt handshake budget.
	// Default: DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// SkipReloadKinds lists embed kinds that visibly destabilize when
	// their frame reloads; on handshake timeout they go straight to the
	// fallback heuristic.
	SkipReloadKinds []string
	// ListenerStart installs the process-wide resize-protocol listener.
	// Run at most once per Runtime via EnsureListener. Optional.
	ListenerStart func() error
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Negotiator runs the height-discovery state machine for embed nodes.
type Negotiator struct {
	tree       dom.Tree
	states     *nodestate.States
	heights    *heights.Table
	widget     WidgetAPI // nil when the provider script is absent
	rt         *Runtime
	skipReload map[string]bool
	opts       Options
}

// New creates a Negotiator. widget may be nil.
func New(tree dom.Tree, states *nodestate.States, table *heights.Table, widget WidgetAPI, rt *Runtime, opts Options) *Negotiator {
	opts.defaults()
	skip := make(map[string]bool, len(opts.SkipReloadKinds))
	for _, k := range opts.SkipReloadKinds {
		skip[k] = true
	}
	return &Negotiator{
		tree:       tree,
		states:     states,
		heights:    table,
		widget:     widget,
		rt:         rt,
		skipReload: skip,
		opts:       opts,
	}
}

// Negotiate drives one node to a terminal state. Idempotent: a node that
// is already terminal or in flight is left alone. Never returns an error;
// every failure path has a defined degraded outcome.
func (g *Negotiator) Negotiate(ctx context.Context, n dom.Node) nodestate.State {
	id := n.ID()
	if !g.states.Begin(id) {
		return g.states.Get(id)
	}
	log := g.opts.Logger

	if err := g.rt.EnsureListener(g.opts.ListenerStart); err != nil {
		log.Warn("negotiate: listener install failed", "error", err)
	}

	// Strategy 1: provider widget API.
	if g.widget != nil {
		if err := g.widget.Load(ctx, n); err == nil {
			g.states.Set(id, nodestate.WidgetOK)
			log.Debug("negotiate: widget api ok", "node", id, "kind", n.Kind())
			return nodestate.WidgetOK
		} else {
			log.Debug("negotiate: widget api rejected", "node", id, "error", err)
		}
	}

	// Strategy 2: handshake channel.
	if h, ok := g.handshake(ctx, n); ok {
		return g.commitMeasured(n, h)
	}

	// Strategy 3: one forced reload, then one more handshake. Kinds that
	// destabilize on reload skip straight to the heuristic.
	if !g.skipReload[n.Kind()] {
		g.states.Set(id, nodestate.Reloading)
		if src := n.FrameSrc(); src != "" {
			n.SetFrameSrc("")
			n.SetFrameSrc(src)
		}
		if h, ok := g.handshake(ctx, n); ok {
			return g.commitMeasured(n, h)
		}
	}

	// Strategy 4: heuristic fallback.
	return g.commitFallback(n)
}

// handshake opens a two-endpoint pipe, transfers the guest end into the
// frame, and races the host end against the timeout.
func (g *Negotiator) handshake(ctx context.Context, n dom.Node) (int, bool) {
	host, guest := dom.NewPipe()
	if err := g.tree.DeliverPort(n, guest); err != nil {
		g.opts.Logger.Debug("negotiate: port delivery failed", "node", n.ID(), "error", err)
		return 0, false
	}

	timer := time.NewTimer(g.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case r := <-host.Reports():
		return r.HeightPx, true
	case <-timer.C:
		return 0, false
	case <-ctx.Done():
		return 0, false
	}
}

func (g *Negotiator) commitMeasured(n dom.Node, heightPx int) nodestate.State {
	n.SetHeight(heightPx)
	g.states.Set(n.ID(), nodestate.Measured)
	g.opts.Logger.Debug("negotiate: measured", "node", n.ID(), "kind", n.Kind(), "height", heightPx)
	return nodestate.Measured
}

func (g *Negotiator) commitFallback(n dom.Node) nodestate.State {
	id := n.ID()
	// A measured height is never overwritten by a heuristic.
	if st := g.states.Get(id); st == nodestate.Measured || st == nodestate.WidgetOK {
		return st
	}
	px := g.heights.Lookup(n.Kind())
	n.SetHeight(px)
	g.states.Set(id, nodestate.Fallback)
	g.opts.Logger.Debug("negotiate: fallback", "node", id, "kind", n.Kind(), "height", px)
	return nodestate.Fallback
}
