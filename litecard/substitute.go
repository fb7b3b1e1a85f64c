package litecard

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mosbree/embedkeeper/canon"
	"github.com/mosbree/embedkeeper/cardcache"
	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/nodestate"
)

// Substituter replaces foreign frames with lite cards. Results are shared
// through a bounded FIFO cache, and a node the user has expanded is never
// touched again.
type Substituter struct {
	tree   dom.Tree
	cache  *cardcache.Cache[*CardData]
	fetch  Fetcher
	render Renderer
	phases *nodestate.Phases
	logger *slog.Logger
}

// NewSubstituter wires the substitution subsystem.
func NewSubstituter(tree dom.Tree, cache *cardcache.Cache[*CardData], fetch Fetcher, render Renderer, phases *nodestate.Phases, logger *slog.Logger) *Substituter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Substituter{
		tree:   tree,
		cache:  cache,
		fetch:  fetch,
		render: render,
		phases: phases,
		logger: logger,
	}
}

// Substitute swaps the node's foreign frame for a lite card. Idempotent:
// expanded, loading, and already-carded nodes are no-ops. Retrieval
// failures degrade to a locally synthesized payload; nothing propagates
// to the host.
func (s *Substituter) Substitute(ctx context.Context, n dom.Node) {
	id := n.ID()
	switch s.phases.Get(id) {
	case nodestate.PhaseExpanded:
		return
	case nodestate.PhaseLoading:
		return
	case nodestate.PhaseDone:
		// Still holding the rendered card: nothing to do. A frame having
		// come back means the host reinserted the embed; fall through and
		// substitute again.
		if n.FrameSrc() == "" {
			return
		}
		s.phases.Set(id, nodestate.PhaseLoading)
	default:
		if !s.phases.BeginLoading(id) {
			return
		}
	}

	canonicalURL := ExtractURL(n)
	if canonicalURL == "" {
		// No resource reference anywhere: leave the node untouched. The
		// only path that visibly changes nothing.
		s.phases.Reset(id)
		s.logger.Debug("litecard: no resource URL", "node", id)
		return
	}

	n.RemoveFrame()
	n.ClearContent()
	n.SetContent(s.render.Render(&CardData{CanonicalURL: canonicalURL}, RenderSkeleton))

	data := s.resolve(ctx, canonicalURL)

	n.SetContent(s.render.Render(data.Clone(), RenderResolved))
	s.phases.Set(id, nodestate.PhaseDone)

	if data.HasMedia {
		n.WireAction("expand", func() { s.expand(n, canonicalURL) })
	}
}

// resolve returns card data for the URL, consulting the cache first. Both
// real payloads and "no usable data" results are cached, so a failing
// resource is fetched at most once per session.
func (s *Substituter) resolve(ctx context.Context, canonicalURL string) *CardData {
	key := cardcache.Key(canonicalURL)
	if payload, found := s.cache.Get(key); found {
		if payload == nil {
			return synthesizeFallback(canonicalURL)
		}
		return payload
	}

	data, err := s.fetch.FetchSummary(ctx, canonicalURL)
	if err != nil {
		s.logger.Warn("litecard: summary fetch failed", "url", canonicalURL, "error", err)
		s.cache.Set(key, nil)
		return synthesizeFallback(canonicalURL)
	}
	s.cache.Set(key, data)
	if data == nil {
		return synthesizeFallback(canonicalURL)
	}
	return data
}

// expand restores the original embed. PhaseExpanded is set before the
// frame comes back so the mutation guard's sweep never re-substitutes it.
func (s *Substituter) expand(n dom.Node, canonicalURL string) {
	s.phases.Set(n.ID(), nodestate.PhaseExpanded)
	n.ClearContent()
	n.InsertFrame(EmbedFrameURL(canonicalURL))
	s.logger.Debug("litecard: expanded", "node", n.ID(), "url", canonicalURL)
}

// synthesizeFallback builds the minimal payload shown when no summary is
// available: the user always sees something rather than a blank region.
func synthesizeFallback(canonicalURL string) *CardData {
	handle := handleFromURL(canonicalURL)
	return &CardData{
		Handle:       handle,
		DisplayName:  strings.TrimPrefix(handle, "@"),
		BodyText:     "This post could not be loaded. Open it on " + canon.CanonicalHost + ".",
		CanonicalURL: canonicalURL,
	}
}

// handleFromURL derives "@user" from a canonical status URL.
func handleFromURL(canonicalURL string) string {
	rest, ok := strings.CutPrefix(canonicalURL, "https://"+canon.CanonicalHost+"/")
	if !ok {
		return "@unknown"
	}
	user, _, _ := strings.Cut(rest, "/")
	if user == "" {
		return "@unknown"
	}
	return "@" + user
}
