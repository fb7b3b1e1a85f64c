package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/heights"
	"github.com/mosbree/embedkeeper/litecard"
	"github.com/mosbree/embedkeeper/nodestate"
)

type fetcherFunc func(ctx context.Context, url string) (*litecard.CardData, error)

func (f fetcherFunc) FetchSummary(ctx context.Context, url string) (*litecard.CardData, error) {
	return f(ctx, url)
}

func cardFetcher(data *litecard.CardData) litecard.Fetcher {
	return fetcherFunc(func(ctx context.Context, url string) (*litecard.CardData, error) {
		d := data.Clone()
		d.CanonicalURL = url
		return d, nil
	})
}

func testConfig(tree dom.Tree) Config {
	table := heights.Defaults()
	table.Set("widget", 500)
	return Config{
		Tree:             tree,
		Heights:          table,
		Fetcher:          cardFetcher(&litecard.CardData{Handle: "@a", BodyText: "card"}),
		LiteKinds:        []string{"status"},
		PollKinds:        []string{"document"},
		SkipReloadKinds:  []string{"widget"},
		HandshakeTimeout: 25 * time.Millisecond,
		Stagger:          30 * time.Millisecond,
		GuardDebounce:    20 * time.Millisecond,
	}
}

func embedFrame(tree *dom.MemTree, kind, user string) *dom.MemNode {
	n := tree.AddEmbed(kind)
	n.SetFrameSrc("https://platform.x.com/embed?url=https%3A%2F%2Fx.com%2F" + user + "%2Fstatus%2F1")
	return n
}

// Three same-kind embeds whose frames never answer: every node must end
// in the fallback state at the configured height, and the handshake
// attempts must be staggered, not simultaneous.
func TestReconcileFallbackStaggered(t *testing.T) {
	tree := dom.NewMemTree()
	var nodes []*dom.MemNode
	for i := 0; i < 3; i++ {
		nodes = append(nodes, embedFrame(tree, "widget", "user"))
	}

	eng := New(testConfig(tree))
	stats := eng.Reconcile(context.Background(), 0, Options{})

	if stats.Nodes != 3 || stats.Negotiated != 3 || stats.Substituted != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	for i, n := range nodes {
		if st := eng.States().Get(n.ID()); st != nodestate.Fallback {
			t.Errorf("node %d state = %v, want Fallback", i, st)
		}
		if h := n.Height(); h != 500 {
			t.Errorf("node %d height = %d, want 500", i, h)
		}
	}

	// First handshake delivery per node reflects the per-index stagger.
	for i := 1; i < 3; i++ {
		prev := nodes[i-1].Deliveries()[0]
		cur := nodes[i].Deliveries()[0]
		if gap := cur.Sub(prev); gap < 20*time.Millisecond {
			t.Errorf("nodes %d/%d started %v apart, want staggered", i-1, i, gap)
		}
	}
}

func TestReconcileIdempotent(t *testing.T) {
	tree := dom.NewMemTree()
	n := embedFrame(tree, "widget", "user")

	eng := New(testConfig(tree))
	eng.Reconcile(context.Background(), 0, Options{})
	first := len(n.Deliveries())

	eng.Reconcile(context.Background(), 0, Options{})
	if len(n.Deliveries()) != first {
		t.Fatal("second pass renegotiated a terminal node")
	}
}

func TestReconcileForceReload(t *testing.T) {
	tree := dom.NewMemTree()
	n := embedFrame(tree, "widget", "user")
	// Answers from the second negotiation on.
	n.SetResponder(func(delivery int) (int, bool) {
		if delivery >= 2 {
			return 480, true
		}
		return 0, false
	})

	eng := New(testConfig(tree))
	eng.Reconcile(context.Background(), 0, Options{})
	if st := eng.States().Get(n.ID()); st != nodestate.Fallback {
		t.Fatalf("first pass state = %v, want Fallback", st)
	}

	eng.Reconcile(context.Background(), 0, Options{ForceReload: true})
	if st := eng.States().Get(n.ID()); st != nodestate.Measured {
		t.Fatalf("forced pass state = %v, want Measured", st)
	}
	if h := n.Height(); h != 480 {
		t.Fatalf("height = %d, want 480", h)
	}
}

func TestReconcileLiteCardMode(t *testing.T) {
	tree := dom.NewMemTree()
	status := embedFrame(tree, "status", "alice")
	widget := embedFrame(tree, "widget", "bob")

	eng := New(testConfig(tree))
	stats := eng.Reconcile(context.Background(), 0, Options{LiteCardMode: true})

	if stats.Substituted != 1 || stats.Negotiated != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if status.FrameSrc() != "" {
		t.Fatal("status embed should have been substituted")
	}
	if !strings.Contains(status.Content(), "card") {
		t.Fatalf("status content = %q", status.Content())
	}
	if widget.FrameSrc() == "" {
		t.Fatal("non-lite kind must keep its frame")
	}
	if ph := eng.Phases().Get(status.ID()); ph != nodestate.PhaseDone {
		t.Fatalf("phase = %v, want done", ph)
	}
}

func TestReconcileLiteCardModeOff(t *testing.T) {
	tree := dom.NewMemTree()
	status := embedFrame(tree, "status", "alice")
	status.SetResponder(func(delivery int) (int, bool) { return 420, true })

	eng := New(testConfig(tree))
	eng.Reconcile(context.Background(), 0, Options{})

	if status.FrameSrc() == "" {
		t.Fatal("lite kinds negotiate normally when the mode is off")
	}
	if st := eng.States().Get(status.ID()); st != nodestate.Measured {
		t.Fatalf("state = %v, want Measured", st)
	}
}

func TestReconcilePollKind(t *testing.T) {
	tree := dom.NewMemTree()
	doc := tree.AddEmbed("document")
	doc.SetInnerHeights(func(sample int) (int, bool) { return 820, true })

	cfg := testConfig(tree)
	eng := New(cfg)
	eng.Reconcile(context.Background(), 0, Options{})

	if st := eng.States().Get(doc.ID()); st != nodestate.Measured {
		t.Fatalf("state = %v, want Measured via stabilization", st)
	}
	if h := doc.Height(); h != 820 {
		t.Fatalf("height = %d, want 820", h)
	}
	if len(doc.Deliveries()) != 0 {
		t.Fatal("poll kinds must not attempt the handshake")
	}
}

func TestRegisterCustomStrategy(t *testing.T) {
	tree := dom.NewMemTree()
	n := tree.AddEmbed("podcast")

	eng := New(testConfig(tree))
	eng.Register("podcast", func(ctx context.Context, n dom.Node) {
		n.SetHeight(152)
		eng.States().Set(n.ID(), nodestate.Measured)
	})

	eng.Reconcile(context.Background(), 0, Options{})
	if h := n.Height(); h != 152 {
		t.Fatalf("height = %d, want 152", h)
	}
}

func TestGuardSweepRepairsRegression(t *testing.T) {
	tree := dom.NewMemTree()
	status := embedFrame(tree, "status", "alice")

	eng := New(testConfig(tree))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := Options{LiteCardMode: true}
	eng.Reconcile(ctx, 0, opts)
	if status.FrameSrc() != "" {
		t.Fatal("setup: substitution failed")
	}

	eng.StartGuard(ctx, 0, opts)
	defer eng.StopGuard()

	// Host re-renders the region, bringing the foreign frame back.
	status.Reinsert("https://platform.x.com/embed?url=https%3A%2F%2Fx.com%2Falice%2Fstatus%2F1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status.FrameSrc() == "" && strings.Contains(status.Content(), "card") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("guard never repaired the region: src=%q content=%q",
		status.FrameSrc(), status.Content())
}

func TestGuardLeavesExpandedAlone(t *testing.T) {
	tree := dom.NewMemTree()
	status := embedFrame(tree, "status", "alice")

	cfg := testConfig(tree)
	cfg.Fetcher = cardFetcher(&litecard.CardData{Handle: "@a", BodyText: "card", HasMedia: true})
	eng := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := Options{LiteCardMode: true}
	eng.Reconcile(ctx, 0, opts)
	status.TriggerAction("expand")
	if ph := eng.Phases().Get(status.ID()); ph != nodestate.PhaseExpanded {
		t.Fatalf("setup: phase = %v, want expanded", ph)
	}
	src := status.FrameSrc()
	if src == "" {
		t.Fatal("setup: expand did not restore the frame")
	}

	eng.StartGuard(ctx, 0, opts)
	defer eng.StopGuard()

	// Mutations on the expanded region must not trigger any repair.
	status.EmitAttrMutation("style")
	time.Sleep(150 * time.Millisecond)

	if status.FrameSrc() != src {
		t.Fatal("guard undid a user expansion")
	}
	if eng.Stats().GuardSweeps != 0 {
		t.Fatalf("sweeps = %d, want 0", eng.Stats().GuardSweeps)
	}
}

func TestStatsCounters(t *testing.T) {
	tree := dom.NewMemTree()
	embedFrame(tree, "status", "alice")
	embedFrame(tree, "widget", "bob")

	eng := New(testConfig(tree))
	eng.Reconcile(context.Background(), 0, Options{LiteCardMode: true})

	s := eng.Stats()
	if s.Passes != 1 || s.Nodes != 2 || s.Negotiated != 1 || s.Substituted != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.CacheEntries != 1 {
		t.Fatalf("cache entries = %d, want 1", s.CacheEntries)
	}
}
