package dom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RodTree is the CDP-backed Tree over a live browser page. Embed regions
// are elements carrying a data-embed-kind attribute; on discovery each
// gets a stable data-ek-id used by every later operation.
//
// Size reports, user actions, and mutation batches all flow back over
// Runtime bindings, the only JS-to-Go channel CDP offers.
type RodTree struct {
	page   *rod.Page
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	nodes   map[NodeID]*RodNode
	pending map[NodeID]*GuestPort
	actions map[NodeID]map[string]func()

	bindOnce sync.Once
	bindErr  error
}

// NewRodTree wraps a page. The page should already be navigated and
// loaded.
func NewRodTree(ctx context.Context, page *rod.Page, logger *slog.Logger) *RodTree {
	if logger == nil {
		logger = slog.Default()
	}
	tctx, cancel := context.WithCancel(ctx)
	return &RodTree{
		page:    page,
		logger:  logger,
		ctx:     tctx,
		cancel:  cancel,
		nodes:   make(map[NodeID]*RodNode),
		pending: make(map[NodeID]*GuestPort),
		actions: make(map[NodeID]map[string]func()),
	}
}

// Close stops binding listeners.
func (t *RodTree) Close() { t.cancel() }

const findJS = `() => {
	const out = [];
	document.querySelectorAll('[data-embed-kind]').forEach(el => {
		if (!el.dataset.ekId) {
			window.__ek_seq = (window.__ek_seq || 0) + 1;
			el.dataset.ekId = String(window.__ek_seq);
		}
		const frame = el.querySelector('iframe');
		out.push({
			id: parseInt(el.dataset.ekId, 10),
			kind: el.dataset.embedKind,
			src: frame ? frame.getAttribute('src') || '' : '',
		});
	});
	return out;
}`

func (t *RodTree) FindEmbedNodes(root NodeID) []Node {
	res, err := t.page.Eval(findJS)
	if err != nil {
		t.logger.Warn("rodtree: find embed nodes", "error", err)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Node
	for _, item := range res.Value.Arr() {
		id := NodeID(item.Get("id").Int())
		n, ok := t.nodes[id]
		if !ok {
			n = &RodNode{tree: t, id: id, kind: item.Get("kind").Str()}
			t.nodes[id] = n
		}
		out = append(out, n)
	}
	return out
}

func (t *RodTree) IsAttached(n Node) bool {
	res, err := t.page.Eval(`(sel) => document.querySelector(sel) !== null`, n.(*RodNode).selector())
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

const observeJS = `() => {
	if (window.__ek_observing) return;
	window.__ek_observing = true;
	const enclosing = (node) => {
		let el = node.nodeType === 1 ? node : node.parentElement;
		while (el && !el.dataset.ekId) el = el.parentElement;
		return el ? parseInt(el.dataset.ekId, 10) : 0;
	};
	const obs = new MutationObserver(muts => {
		const batch = [];
		for (const m of muts) {
			if (m.type === 'attributes') {
				batch.push({op: 'attr', node: enclosing(m.target), name: m.attributeName || ''});
			} else {
				for (const n of m.addedNodes) batch.push({op: 'insert', node: enclosing(n)});
				for (const n of m.removedNodes) batch.push({op: 'remove', node: enclosing(m.target)});
			}
		}
		if (batch.length) window.__ek_mutations(JSON.stringify(batch));
	});
	obs.observe(document.documentElement, {subtree: true, childList: true, attributes: true});
}`

func (t *RodTree) Observe(root NodeID, fn func([]Mutation)) (stop func()) {
	if err := t.ensureBindings(); err != nil {
		t.logger.Warn("rodtree: observe bindings", "error", err)
		return func() {}
	}

	octx, ocancel := context.WithCancel(t.ctx)
	go t.page.Context(octx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != "__ek_mutations" {
			return
		}
		var raw []struct {
			Op   string `json:"op"`
			Node int64  `json:"node"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(e.Payload), &raw); err != nil {
			t.logger.Warn("rodtree: parse mutation batch", "error", err)
			return
		}
		batch := make([]Mutation, 0, len(raw))
		for _, r := range raw {
			batch = append(batch, Mutation{Op: MutationOp(r.Op), Node: NodeID(r.Node), Name: r.Name})
		}
		fn(batch)
	})()

	if _, err := t.page.Eval(observeJS); err != nil {
		t.logger.Warn("rodtree: inject observer", "error", err)
	}
	return ocancel
}

func (t *RodTree) InnerFrameHeight(n Node) (int, bool) {
	res, err := t.page.Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) return -1;
		const frame = el.querySelector('iframe');
		if (!frame) return -1;
		try {
			const doc = frame.contentDocument;
			if (!doc || !doc.body) return -1;
			return doc.body.scrollHeight;
		} catch (e) { return -1; }
	}`, n.(*RodNode).selector())
	if err != nil {
		return 0, false
	}
	h := res.Value.Int()
	if h < 0 {
		return 0, false
	}
	return h, true
}

// DeliverPort posts the size-request initiation message into the node's
// frame and parks the guest port until the frame's report arrives on the
// __ek_size binding.
func (t *RodTree) DeliverPort(n Node, guest *GuestPort) error {
	if err := t.ensureBindings(); err != nil {
		return err
	}
	rn := n.(*RodNode)

	t.mu.Lock()
	t.pending[rn.id] = guest
	t.mu.Unlock()

	_, err := t.page.Eval(`(sel, id) => {
		const el = document.querySelector(sel);
		const frame = el && el.querySelector('iframe');
		if (!frame || !frame.contentWindow) return false;
		const onMessage = (ev) => {
			const d = ev.data || {};
			if (d.type === 'ek-size-report' && ev.source === frame.contentWindow) {
				window.removeEventListener('message', onMessage);
				window.__ek_size(JSON.stringify({id: id, height: d.height | 0}));
			}
		};
		window.addEventListener('message', onMessage);
		frame.contentWindow.postMessage({type: 'ek-size-request', id: id}, '*');
		return true;
	}`, rn.selector(), int64(rn.id))
	if err != nil {
		t.mu.Lock()
		delete(t.pending, rn.id)
		t.mu.Unlock()
		return fmt.Errorf("rodtree: deliver port: %w", err)
	}
	return nil
}

// ensureBindings installs the JS→Go bindings and their listener once.
func (t *RodTree) ensureBindings() error {
	t.bindOnce.Do(func() {
		for _, name := range []string{"__ek_size", "__ek_action", "__ek_mutations"} {
			if err := (proto.RuntimeAddBinding{Name: name}).Call(t.page); err != nil {
				t.bindErr = fmt.Errorf("rodtree: add binding %s: %w", name, err)
				return
			}
		}
		go t.page.Context(t.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
			switch e.Name {
			case "__ek_size":
				var msg struct {
					ID     int64 `json:"id"`
					Height int   `json:"height"`
				}
				if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
					return
				}
				t.mu.Lock()
				guest := t.pending[NodeID(msg.ID)]
				delete(t.pending, NodeID(msg.ID))
				t.mu.Unlock()
				if guest != nil {
					guest.Report(msg.Height)
				}
			case "__ek_action":
				var msg struct {
					ID   int64  `json:"id"`
					Name string `json:"name"`
				}
				if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
					return
				}
				t.mu.Lock()
				var fn func()
				if m := t.actions[NodeID(msg.ID)]; m != nil {
					fn = m[msg.Name]
				}
				t.mu.Unlock()
				if fn != nil {
					fn()
				}
			}
		})()
	})
	return t.bindErr
}

// RodNode is an embed region on a live page. Every accessor round-trips
// through Eval; nothing is cached except the kind tag.
type RodNode struct {
	tree *RodTree
	id   NodeID
	kind string
}

func (n *RodNode) selector() string {
	return `[data-ek-id="` + strconv.FormatInt(int64(n.id), 10) + `"]`
}

func (n *RodNode) ID() NodeID   { return n.id }
func (n *RodNode) Kind() string { return n.kind }

func (n *RodNode) eval(js string, args ...any) string {
	all := append([]any{n.selector()}, args...)
	res, err := n.tree.page.Eval(js, all...)
	if err != nil {
		n.tree.logger.Debug("rodtree: eval", "node", n.id, "error", err)
		return ""
	}
	return res.Value.Str()
}

func (n *RodNode) Attr(name string) string {
	return n.eval(`(sel, name) => {
		const el = document.querySelector(sel);
		return el ? (el.getAttribute(name) || '') : '';
	}`, name)
}

func (n *RodNode) SetAttr(name, value string) {
	n.eval(`(sel, name, value) => {
		const el = document.querySelector(sel);
		if (el) el.setAttribute(name, value);
		return '';
	}`, name, value)
}

func (n *RodNode) Height() int {
	res, err := n.tree.page.Eval(`(sel) => {
		const el = document.querySelector(sel);
		return el ? (parseInt(el.style.height, 10) || 0) : 0;
	}`, n.selector())
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func (n *RodNode) SetHeight(px int) {
	n.eval(`(sel, px) => {
		const el = document.querySelector(sel);
		if (el) el.style.height = px + 'px';
		return '';
	}`, px)
}

func (n *RodNode) FrameSrc() string {
	return n.eval(`(sel) => {
		const el = document.querySelector(sel);
		const frame = el && el.querySelector('iframe');
		return frame ? (frame.getAttribute('src') || '') : '';
	}`)
}

func (n *RodNode) SetFrameSrc(src string) {
	n.eval(`(sel, src) => {
		const el = document.querySelector(sel);
		const frame = el && el.querySelector('iframe');
		if (frame) frame.setAttribute('src', src);
		return '';
	}`, src)
}

func (n *RodNode) InsertFrame(src string) {
	n.eval(`(sel, src) => {
		const el = document.querySelector(sel);
		if (!el) return '';
		let frame = el.querySelector('iframe');
		if (!frame) {
			frame = document.createElement('iframe');
			el.appendChild(frame);
		}
		frame.setAttribute('src', src);
		return '';
	}`, src)
}

func (n *RodNode) RemoveFrame() {
	n.eval(`(sel) => {
		const el = document.querySelector(sel);
		const frame = el && el.querySelector('iframe');
		if (frame) frame.remove();
		return '';
	}`)
}

func (n *RodNode) SetContent(markup string) {
	n.eval(`(sel, markup, id) => {
		const el = document.querySelector(sel);
		if (!el) return '';
		el.innerHTML = markup;
		el.querySelectorAll('[data-action]').forEach(btn => {
			btn.addEventListener('click', () => {
				window.__ek_action(JSON.stringify({id: id, name: btn.dataset.action}));
			});
		});
		return '';
	}`, markup, int64(n.id))
}

func (n *RodNode) ClearContent() {
	n.eval(`(sel) => {
		const el = document.querySelector(sel);
		if (el) el.innerHTML = '';
		return '';
	}`)
	n.tree.mu.Lock()
	delete(n.tree.actions, n.id)
	n.tree.mu.Unlock()
}

func (n *RodNode) OuterHTML() string {
	return n.eval(`(sel) => {
		const el = document.querySelector(sel);
		return el ? el.outerHTML : '';
	}`)
}

func (n *RodNode) WireAction(name string, fn func()) {
	n.tree.mu.Lock()
	if n.tree.actions[n.id] == nil {
		n.tree.actions[n.id] = make(map[string]func())
	}
	n.tree.actions[n.id][name] = fn
	n.tree.mu.Unlock()
}
