package negotiate

import (
	"context"
	"log/slog"
	"time"

	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/heights"
)

// Stabilization constants. Empirically tuned against real provider paint
// behavior; tests pin them. Do not re-derive.
const (
	DefaultSampleInterval = 180 * time.Millisecond
	DefaultMaxAttempts    = 60 // ~10.8s ceiling
	DefaultStableTicks    = 3
	DefaultTolerancePx    = 8
	DefaultMinShrinkGapPx = 80

	// MinValidHeight is the floor below which no height is ever finalized.
	MinValidHeight = 100
)

// Outcome is the poller's terminal condition.
type Outcome int

const (
	StabilizeDone Outcome = iota
	StabilizeTimeout
	StabilizeDetached
)

var outcomeNames = map[Outcome]string{
	StabilizeDone:     "done",
	StabilizeTimeout:  "timeout",
	StabilizeDetached: "detached",
}

func (o Outcome) String() string { return outcomeNames[o] }

// StabilizeOptions tunes a Poller.
type StabilizeOptions struct {
	Interval       time.Duration
	MaxAttempts    int
	StableTicks    int
	TolerancePx    int
	MinShrinkGapPx int
	Logger         *slog.Logger
}

func (o *StabilizeOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultSampleInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.StableTicks <= 0 {
		o.StableTicks = DefaultStableTicks
	}
	if o.TolerancePx <= 0 {
		o.TolerancePx = DefaultTolerancePx
	}
	if o.MinShrinkGapPx <= 0 {
		o.MinShrinkGapPx = DefaultMinShrinkGapPx
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Poller repeatedly samples the noisy nested-frame height signal and
// commits a final height once consecutive samples agree. It grows the
// applied height eagerly (content cut off is worse than blank space) and
// shrinks at most once, at the end, and only past a minimum gap, so
// transient low readings never cause visible flicker.
type Poller struct {
	tree    dom.Tree
	heights *heights.Table
	opts    StabilizeOptions
}

// NewPoller creates a stabilization poller.
func NewPoller(tree dom.Tree, table *heights.Table, opts StabilizeOptions) *Poller {
	opts.defaults()
	return &Poller{tree: tree, heights: table, opts: opts}
}

// Run polls until the signal stabilizes, the attempt budget is exhausted,
// or the node leaves the tree. Detach is the only cancellation signal;
// context expiry is treated like attempt exhaustion. Returns the outcome
// and the finalized height (0 when detached before any commit).
func (p *Poller) Run(ctx context.Context, n dom.Node) (Outcome, int) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	applied := n.Height()
	best := 0
	prev := 0
	stable := 0
	sampled := false

	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return StabilizeTimeout, p.finalize(n, applied, best, sampled)
		case <-ticker.C:
		}

		if !p.tree.IsAttached(n) {
			p.opts.Logger.Debug("stabilize: node detached", "node", n.ID(), "attempt", attempt)
			return StabilizeDetached, applied
		}

		h, ok := p.tree.InnerFrameHeight(n)
		if !ok {
			continue
		}

		if sampled && abs(h-prev) <= p.opts.TolerancePx {
			stable++
		} else {
			stable = 1
		}
		sampled = true
		prev = h
		if h > best {
			best = h
		}

		// Grow immediately; shrinking waits for convergence.
		if h > applied+p.opts.TolerancePx {
			applied = h
			n.SetHeight(applied)
		}

		if stable >= p.opts.StableTicks {
			if applied > best+p.opts.MinShrinkGapPx {
				applied = best
				n.SetHeight(applied)
			}
			final := p.finalize(n, applied, best, sampled)
			p.opts.Logger.Debug("stabilize: done",
				"node", n.ID(), "height", final, "attempts", attempt)
			return StabilizeDone, final
		}
	}

	return StabilizeTimeout, p.finalize(n, applied, best, sampled)
}

// finalize enforces the MinValidHeight floor. A run that never produced a
// valid sample defers to the fallback heuristic instead.
func (p *Poller) finalize(n dom.Node, applied, best int, sampled bool) int {
	if applied >= MinValidHeight {
		return applied
	}
	if sampled && best >= MinValidHeight {
		n.SetHeight(best)
		return best
	}
	px := p.heights.Lookup(n.Kind())
	n.SetHeight(px)
	return px
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
