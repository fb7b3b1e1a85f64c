package litecard

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mosbree/embedkeeper/cardcache"
	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/nodestate"
)

// fakeFetcher scripts summary retrieval and counts calls.
type fakeFetcher struct {
	data  *CardData
	err   error
	calls atomic.Int64
}

func (f *fakeFetcher) FetchSummary(ctx context.Context, canonicalURL string) (*CardData, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.data == nil {
		return nil, nil
	}
	d := f.data.Clone()
	d.CanonicalURL = canonicalURL
	return d, nil
}

func testSubstituter(tree dom.Tree, fetch Fetcher) (*Substituter, *nodestate.Phases, *cardcache.Cache[*CardData]) {
	phases := nodestate.NewPhases()
	cache := cardcache.New[*CardData](16)
	return NewSubstituter(tree, cache, fetch, MarkupRenderer{}, phases, nil), phases, cache
}

func statusNode(tree *dom.MemTree) *dom.MemNode {
	n := tree.AddEmbed("status")
	n.SetFrameSrc("https://platform.x.com/embed?url=https%3A%2F%2Fx.com%2Falice%2Fstatus%2F42")
	return n
}

func TestSubstituteRendersCard(t *testing.T) {
	tree := dom.NewMemTree()
	n := statusNode(tree)
	fetch := &fakeFetcher{data: &CardData{
		Handle:      "@alice",
		DisplayName: "Alice",
		BodyText:    "hello world",
	}}
	s, phases, cache := testSubstituter(tree, fetch)

	s.Substitute(context.Background(), n)

	if got := phases.Get(n.ID()); got != nodestate.PhaseDone {
		t.Fatalf("phase = %v, want done", got)
	}
	if n.FrameSrc() != "" {
		t.Fatal("foreign frame should be gone")
	}
	content := n.Content()
	if !strings.Contains(content, "hello world") || !strings.Contains(content, "@alice") {
		t.Fatalf("card markup missing payload: %q", content)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", cache.Len())
	}
}

func TestSubstituteIdempotent(t *testing.T) {
	tree := dom.NewMemTree()
	n := statusNode(tree)
	fetch := &fakeFetcher{data: &CardData{Handle: "@alice", DisplayName: "Alice", BodyText: "hi"}}
	s, _, _ := testSubstituter(tree, fetch)

	s.Substitute(context.Background(), n)
	s.Substitute(context.Background(), n)
	s.Substitute(context.Background(), n)

	if got := fetch.calls.Load(); got != 1 {
		t.Fatalf("fetch called %d times, want 1", got)
	}
}

func TestSubstituteLoadingGuard(t *testing.T) {
	tree := dom.NewMemTree()
	n := statusNode(tree)
	fetch := &fakeFetcher{data: &CardData{BodyText: "x"}}
	s, phases, _ := testSubstituter(tree, fetch)

	phases.Set(n.ID(), nodestate.PhaseLoading)
	s.Substitute(context.Background(), n)

	if got := fetch.calls.Load(); got != 0 {
		t.Fatal("loading nodes must not start another substitution")
	}
}

func TestSubstituteExpandedNeverTouched(t *testing.T) {
	tree := dom.NewMemTree()
	n := statusNode(tree)
	fetch := &fakeFetcher{data: &CardData{BodyText: "x"}}
	s, phases, _ := testSubstituter(tree, fetch)

	phases.Set(n.ID(), nodestate.PhaseExpanded)
	before := n.FrameSrc()
	s.Substitute(context.Background(), n)

	if n.FrameSrc() != before {
		t.Fatal("expanded node's frame must survive")
	}
	if fetch.calls.Load() != 0 {
		t.Fatal("expanded node must not be fetched")
	}
}

func TestSubstituteNoURLLeavesNodeUntouched(t *testing.T) {
	tree := dom.NewMemTree()
	n := tree.AddEmbed("status")
	n.SetFrameSrc("https://cdn.example.org/player.html")
	fetch := &fakeFetcher{data: &CardData{BodyText: "x"}}
	s, phases, _ := testSubstituter(tree, fetch)

	s.Substitute(context.Background(), n)

	if n.FrameSrc() == "" {
		t.Fatal("frame must survive when no resource URL is extractable")
	}
	if n.Content() != "" {
		t.Fatal("no markup should be written")
	}
	if got := phases.Get(n.ID()); got != nodestate.PhaseNone {
		t.Fatalf("phase = %v, want none so a later pass can retry", got)
	}
	if fetch.calls.Load() != 0 {
		t.Fatal("nothing should be fetched")
	}
}

func TestSubstituteFetchFailureSynthesizesCard(t *testing.T) {
	tree := dom.NewMemTree()
	n := statusNode(tree)
	fetch := &fakeFetcher{err: errors.New("rate limited")}
	s, phases, cache := testSubstituter(tree, fetch)

	s.Substitute(context.Background(), n)

	if got := phases.Get(n.ID()); got != nodestate.PhaseDone {
		t.Fatalf("phase = %v, want done despite fetch failure", got)
	}
	content := n.Content()
	if !strings.Contains(content, "@alice") {
		t.Fatalf("fallback card should carry the handle from the URL: %q", content)
	}
	if !strings.Contains(content, "could not be loaded") {
		t.Fatalf("fallback card missing explanation: %q", content)
	}

	// The failure is cached as a negative result: a second node pointing
	// at the same resource must not refetch.
	if cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1 negative entry", cache.Len())
	}
	n2 := statusNode(tree)
	s.Substitute(context.Background(), n2)
	if got := fetch.calls.Load(); got != 1 {
		t.Fatalf("fetch called %d times, want 1 (negative result cached)", got)
	}
}

func TestSubstituteCacheHitSkipsFetch(t *testing.T) {
	tree := dom.NewMemTree()
	a := statusNode(tree)
	b := statusNode(tree)
	fetch := &fakeFetcher{data: &CardData{Handle: "@alice", BodyText: "shared"}}
	s, _, _ := testSubstituter(tree, fetch)

	s.Substitute(context.Background(), a)
	s.Substitute(context.Background(), b)

	if got := fetch.calls.Load(); got != 1 {
		t.Fatalf("fetch called %d times, want 1", got)
	}
	if !strings.Contains(b.Content(), "shared") {
		t.Fatal("second node should render from cache")
	}
}

func TestExpandRestoresEmbed(t *testing.T) {
	tree := dom.NewMemTree()
	n := statusNode(tree)
	fetch := &fakeFetcher{data: &CardData{
		Handle:   "@alice",
		BodyText: "with media",
		HasMedia: true,
	}}
	s, phases, _ := testSubstituter(tree, fetch)

	s.Substitute(context.Background(), n)
	if !strings.Contains(n.Content(), "expand") {
		t.Fatalf("media card missing expand control: %q", n.Content())
	}

	n.TriggerAction("expand")

	if got := phases.Get(n.ID()); got != nodestate.PhaseExpanded {
		t.Fatalf("phase = %v, want expanded", got)
	}
	src := n.FrameSrc()
	if !strings.Contains(src, "platform.x.com") || !strings.Contains(src, "alice") {
		t.Fatalf("restored frame src = %q", src)
	}
	if n.Content() != "" {
		t.Fatal("card markup should be cleared on expand")
	}

	// A sweep after expansion must not re-substitute.
	s.Substitute(context.Background(), n)
	if n.FrameSrc() != src {
		t.Fatal("expanded embed was re-substituted")
	}
}

func TestSubstituteNoMediaNoExpand(t *testing.T) {
	tree := dom.NewMemTree()
	n := statusNode(tree)
	fetch := &fakeFetcher{data: &CardData{Handle: "@alice", BodyText: "text only"}}
	s, _, _ := testSubstituter(tree, fetch)

	s.Substitute(context.Background(), n)
	if strings.Contains(n.Content(), "expand") {
		t.Fatal("text-only card must not offer expansion")
	}
	n.TriggerAction("expand")
	if n.FrameSrc() != "" {
		t.Fatal("expand on a text-only card must be a no-op")
	}
}

func TestSubstituteAfterHostReinsert(t *testing.T) {
	tree := dom.NewMemTree()
	n := statusNode(tree)
	fetch := &fakeFetcher{data: &CardData{Handle: "@alice", BodyText: "card"}}
	s, phases, _ := testSubstituter(tree, fetch)

	s.Substitute(context.Background(), n)
	if n.FrameSrc() != "" {
		t.Fatal("setup: frame should be substituted away")
	}

	// Host framework re-renders the region, bringing the frame back.
	n.Reinsert("https://platform.x.com/embed?url=https%3A%2F%2Fx.com%2Falice%2Fstatus%2F42")

	s.Substitute(context.Background(), n)
	if n.FrameSrc() != "" {
		t.Fatal("reinserted frame should be substituted again")
	}
	if !strings.Contains(n.Content(), "card") {
		t.Fatalf("card not re-rendered: %q", n.Content())
	}
	if got := phases.Get(n.ID()); got != nodestate.PhaseDone {
		t.Fatalf("phase = %v, want done", got)
	}
	// Payload comes from cache; no second fetch.
	if got := fetch.calls.Load(); got != 1 {
		t.Fatalf("fetch called %d times, want 1", got)
	}
}

func TestSynthesizeFallbackHandle(t *testing.T) {
	d := synthesizeFallback("https://x.com/carol/status/7")
	if d.Handle != "@carol" {
		t.Errorf("handle = %q, want @carol", d.Handle)
	}
	d = synthesizeFallback("https://example.org/whatever")
	if d.Handle != "@unknown" {
		t.Errorf("handle = %q, want @unknown", d.Handle)
	}
}

func TestCardDataClone(t *testing.T) {
	orig := &CardData{
		Handle:    "@a",
		MediaRefs: []string{"m1"},
		ReplyTo:   &Ref{Handle: "@b"},
	}
	c := orig.Clone()
	c.MediaRefs[0] = "changed"
	c.ReplyTo.Handle = "@z"
	if orig.MediaRefs[0] != "m1" || orig.ReplyTo.Handle != "@b" {
		t.Fatal("Clone shares state with the original")
	}
	if (*CardData)(nil).Clone() != nil {
		t.Fatal("nil Clone should be nil")
	}
}
