// Package guard repairs host-side regressions. The host document may
// reinsert foreign content the engine already substituted; the guard
// watches for that, ignores anything inside user-expanded regions, and
// coalesces bursts of mutations into a single re-reconciliation sweep.
package guard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/nodestate"
)

// DefaultDebounce is the coalescing window for sweep scheduling.
const DefaultDebounce = 80 * time.Millisecond

// Sweep re-runs reconciliation over the guarded subtree.
type Sweep func(ctx context.Context)

// Options tunes a Guard.
type Options struct {
	// Debounce is the quiet period after a relevant mutation before the
	// sweep fires. Further mutations inside the window re-arm the timer.
	// Default: DefaultDebounce.
	Debounce time.Duration
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Guard watches a subtree and schedules debounced sweeps. Started once
// per document lifetime; repeated Start calls only re-arm the debounce.
type Guard struct {
	tree   dom.Tree
	phases *nodestate.Phases
	sweep  Sweep
	opts   Options

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	stopObserve func()
	kick        chan struct{}

	sweeps atomic.Int64
}

// New creates a Guard. Call Start to begin watching.
func New(tree dom.Tree, phases *nodestate.Phases, sweep Sweep, opts Options) *Guard {
	opts.defaults()
	return &Guard{
		tree:   tree,
		phases: phases,
		sweep:  sweep,
		opts:   opts,
		kick:   make(chan struct{}, 1),
	}
}

// Start begins observing the subtree under root. Idempotent: when already
// running it re-arms the debounce and returns.
func (g *Guard) Start(ctx context.Context, root dom.NodeID) {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		g.arm()
		return
	}
	g.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.stopObserve = g.tree.Observe(root, g.onMutations)
	g.mu.Unlock()

	go g.loop(loopCtx)
	g.opts.Logger.Info("guard: started", "debounce", g.opts.Debounce)
}

// Stop halts observation and the sweep loop.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.running = false
	g.stopObserve()
	g.cancel()
	g.opts.Logger.Info("guard: stopped")
}

// Running reports whether the guard is active.
func (g *Guard) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Sweeps returns the number of sweeps fired.
func (g *Guard) Sweeps() int64 { return g.sweeps.Load() }

// onMutations filters a batch. Changes inside user-expanded regions are
// intentionally ignored; anything else arms the debounce.
func (g *Guard) onMutations(batch []dom.Mutation) {
	for _, m := range batch {
		if m.Node != 0 && g.phases.Get(m.Node) == nodestate.PhaseExpanded {
			continue
		}
		g.arm()
		return
	}
}

// arm schedules (or re-schedules) a sweep. Non-blocking; an already-armed
// guard stays armed.
func (g *Guard) arm() {
	select {
	case g.kick <- struct{}{}:
	default:
	}
}

// loop turns kicks into debounced sweeps: at most one sweep per coalescing
// window regardless of mutation volume.
func (g *Guard) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-g.kick:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(g.opts.Debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			g.sweeps.Add(1)
			g.opts.Logger.Debug("guard: sweeping")
			g.sweep(ctx)
		}
	}
}
