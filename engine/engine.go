// Package engine orchestrates embed reconciliation: it enumerates embed
// regions, classifies them by kind through a dispatch table, and drives
// each to a terminal state via height negotiation, stabilization polling,
// or lite-card substitution. A mutation guard re-triggers passes when the
// host document regresses.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosbree/embedkeeper/cardcache"
	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/eventlog"
	"github.com/mosbree/embedkeeper/guard"
	"github.com/mosbree/embedkeeper/heights"
	"github.com/mosbree/embedkeeper/idgen"
	"github.com/mosbree/embedkeeper/litecard"
	"github.com/mosbree/embedkeeper/negotiate"
	"github.com/mosbree/embedkeeper/nodestate"
)

// DefaultStagger is the per-index delay between same-kind handshake
// negotiations, preventing a thundering herd after a bulk content load.
const DefaultStagger = 150 * time.Millisecond

// Options selects per-pass behavior.
type Options struct {
	// ForceReload clears terminal negotiation states so every node
	// renegotiates from scratch. User-expanded card state is never
	// cleared.
	ForceReload bool
	// LiteCardMode substitutes lite cards for kinds configured as
	// lite-card kinds instead of negotiating their frames.
	LiteCardMode bool
}

// Strategy drives one node to a terminal state. The dispatch table maps
// embed kinds to strategies, so adding a provider is a data addition.
type Strategy func(ctx context.Context, n dom.Node)

// Config wires an Engine.
type Config struct {
	Tree    dom.Tree
	Heights *heights.Table       // nil uses heights.Defaults()
	Widget  negotiate.WidgetAPI  // optional
	Fetcher litecard.Fetcher     // required when LiteKinds is non-empty
	Render  litecard.Renderer    // nil uses litecard.MarkupRenderer
	Events  *eventlog.Store      // optional

	// LiteKinds substitute lite cards when Options.LiteCardMode is set.
	LiteKinds []string
	// PollKinds stabilize via the nested-frame signal instead of the
	// handshake protocol.
	PollKinds []string
	// SkipReloadKinds destabilize visibly on frame reload.
	SkipReloadKinds []string

	HandshakeTimeout time.Duration
	Stagger          time.Duration
	GuardDebounce    time.Duration
	CacheMaxEntries  int
	// ListenerStart installs the process-wide resize listener once.
	ListenerStart func() error

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Heights == nil {
		c.Heights = heights.Defaults()
	}
	if c.Render == nil {
		c.Render = litecard.MarkupRenderer{}
	}
	if c.Stagger <= 0 {
		c.Stagger = DefaultStagger
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine is the reconciliation orchestrator.
type Engine struct {
	tree   dom.Tree
	states *nodestate.States
	phases *nodestate.Phases
	rt     *negotiate.Runtime

	neg    *negotiate.Negotiator
	poller *negotiate.Poller
	sub    *litecard.Substituter
	cache  *cardcache.Cache[*litecard.CardData]
	events *eventlog.Store

	strategies map[string]Strategy
	stratMu    sync.RWMutex
	liteKinds  map[string]bool
	stagger    time.Duration

	guard     *guard.Guard
	guardRoot atomic.Int64
	guardOpts atomic.Value // Options

	newPassID idgen.Generator
	logger    *slog.Logger

	passes      atomic.Int64
	nodesSeen   atomic.Int64
	negotiated  atomic.Int64
	substituted atomic.Int64
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	cfg.defaults()

	e := &Engine{
		tree:       cfg.Tree,
		states:     nodestate.NewStates(),
		phases:     nodestate.NewPhases(),
		rt:         negotiate.NewRuntime(),
		cache:      cardcache.New[*litecard.CardData](cfg.CacheMaxEntries),
		events:     cfg.Events,
		strategies: make(map[string]Strategy),
		liteKinds:  make(map[string]bool, len(cfg.LiteKinds)),
		stagger:    cfg.Stagger,
		newPassID:  idgen.Prefixed("pass_", idgen.Default),
		logger:     cfg.Logger,
	}
	e.guardOpts.Store(Options{})

	e.neg = negotiate.New(cfg.Tree, e.states, cfg.Heights, cfg.Widget, e.rt, negotiate.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		SkipReloadKinds:  cfg.SkipReloadKinds,
		ListenerStart:    cfg.ListenerStart,
		Logger:           cfg.Logger,
	})
	e.poller = negotiate.NewPoller(cfg.Tree, cfg.Heights, negotiate.StabilizeOptions{
		Logger: cfg.Logger,
	})
	e.sub = litecard.NewSubstituter(cfg.Tree, e.cache, cfg.Fetcher, cfg.Render, e.phases, cfg.Logger)

	for _, k := range cfg.LiteKinds {
		e.liteKinds[k] = true
	}
	for _, k := range cfg.PollKinds {
		e.strategies[k] = e.pollStrategy
	}

	e.guard = guard.New(cfg.Tree, e.phases, e.sweepFn(), guard.Options{
		Debounce: cfg.GuardDebounce,
		Logger:   cfg.Logger,
	})
	return e
}

// Register installs a strategy for an embed kind, overriding the default
// handshake negotiation.
func (e *Engine) Register(kind string, s Strategy) {
	e.stratMu.Lock()
	e.strategies[kind] = s
	e.stratMu.Unlock()
}

// PassStats summarizes one reconciliation pass.
type PassStats struct {
	PassID      string `json:"pass_id"`
	Nodes       int    `json:"nodes"`
	Negotiated  int    `json:"negotiated"`
	Substituted int    `json:"substituted"`
}

// Reconcile runs one pass over the embed regions under root and blocks
// until every dispatched node reaches its terminal state. Nodes are
// processed in document order; same-kind handshake negotiations are
// staggered by a fixed per-index delay.
func (e *Engine) Reconcile(ctx context.Context, root dom.NodeID, opts Options) PassStats {
	passID := e.newPassID()
	nodes := e.tree.FindEmbedNodes(root)

	e.passes.Add(1)
	e.nodesSeen.Add(int64(len(nodes)))
	e.logger.Debug("engine: pass start",
		"pass", passID, "nodes", len(nodes),
		"lite_card", opts.LiteCardMode, "force_reload", opts.ForceReload)

	stats := PassStats{PassID: passID, Nodes: len(nodes)}
	var wg sync.WaitGroup
	perKind := make(map[string]int)

	for _, n := range nodes {
		if opts.ForceReload {
			if e.states.Get(n.ID()).Terminal() {
				e.states.Reset(n.ID())
			}
		}

		if opts.LiteCardMode && e.liteKinds[n.Kind()] {
			stats.Substituted++
			wg.Add(1)
			go func(n dom.Node) {
				defer wg.Done()
				start := time.Now()
				e.sub.Substitute(ctx, n)
				e.substituted.Add(1)
				e.record(passID, n, "card:"+e.phases.Get(n.ID()).String(), start)
			}(n)
			continue
		}

		idx := perKind[n.Kind()]
		perKind[n.Kind()]++
		delay := time.Duration(idx) * e.stagger

		stats.Negotiated++
		wg.Add(1)
		go func(n dom.Node, delay time.Duration) {
			defer wg.Done()
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			start := time.Now()
			e.strategyFor(n.Kind())(ctx, n)
			e.negotiated.Add(1)
			e.record(passID, n, e.states.Get(n.ID()).String(), start)
		}(n, delay)
	}

	wg.Wait()
	e.logger.Debug("engine: pass done", "pass", passID,
		"negotiated", stats.Negotiated, "substituted", stats.Substituted)
	return stats
}

func (e *Engine) strategyFor(kind string) Strategy {
	e.stratMu.RLock()
	s := e.strategies[kind]
	e.stratMu.RUnlock()
	if s == nil {
		return e.negotiateStrategy
	}
	return s
}

func (e *Engine) negotiateStrategy(ctx context.Context, n dom.Node) {
	e.neg.Negotiate(ctx, n)
}

// pollStrategy stabilizes kinds whose height is only observable through a
// nested same-origin sub-frame.
func (e *Engine) pollStrategy(ctx context.Context, n dom.Node) {
	id := n.ID()
	if !e.states.Begin(id) {
		return
	}
	outcome, _ := e.poller.Run(ctx, n)
	switch outcome {
	case negotiate.StabilizeDone:
		e.states.Set(id, nodestate.Measured)
	case negotiate.StabilizeTimeout:
		e.states.Set(id, nodestate.Fallback)
	case negotiate.StabilizeDetached:
		// Node left the tree mid-poll; a reinserted node renegotiates.
		e.states.Reset(id)
	}
}

// StartGuard begins watching the subtree under root, re-running passes
// with the given options whenever a relevant host mutation lands.
// Idempotent: repeated calls re-arm the guard's debounce.
func (e *Engine) StartGuard(ctx context.Context, root dom.NodeID, opts Options) {
	e.guardRoot.Store(int64(root))
	e.guardOpts.Store(opts)
	e.guard.Start(ctx, root)
}

// StopGuard halts the guard.
func (e *Engine) StopGuard() {
	e.guard.Stop()
}

func (e *Engine) sweepFn() guard.Sweep {
	return func(ctx context.Context) {
		root := dom.NodeID(e.guardRoot.Load())
		opts := e.guardOpts.Load().(Options)
		e.Reconcile(ctx, root, opts)
	}
}

// Runtime exposes the process-wide negotiation context (tests reset it).
func (e *Engine) Runtime() *negotiate.Runtime { return e.rt }

// States exposes the negotiation state table.
func (e *Engine) States() *nodestate.States { return e.states }

// Phases exposes the substitution phase table.
func (e *Engine) Phases() *nodestate.Phases { return e.phases }

// Cache exposes the card result cache.
func (e *Engine) Cache() *cardcache.Cache[*litecard.CardData] { return e.cache }

// Stats are point-in-time engine counters.
type Stats struct {
	Passes       int64 `json:"passes"`
	Nodes        int64 `json:"nodes"`
	Negotiated   int64 `json:"negotiated"`
	Substituted  int64 `json:"substituted"`
	GuardSweeps  int64 `json:"guard_sweeps"`
	CacheEntries int   `json:"cache_entries"`
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Passes:       e.passes.Load(),
		Nodes:        e.nodesSeen.Load(),
		Negotiated:   e.negotiated.Load(),
		Substituted:  e.substituted.Load(),
		GuardSweeps:  e.guard.Sweeps(),
		CacheEntries: e.cache.Len(),
	}
}

func (e *Engine) record(passID string, n dom.Node, outcome string, start time.Time) {
	if e.events == nil {
		return
	}
	e.events.RecordAsync(&eventlog.Event{
		PassID:     passID,
		Node:       int64(n.ID()),
		Kind:       n.Kind(),
		Outcome:    outcome,
		HeightPx:   n.Height(),
		DurationUs: time.Since(start).Microseconds(),
	})
}
