package dom

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FakeNode is an in-memory element used by tests in place of a live tree.
// It implements Node. Tests mutate the tree directly (AppendChild, Detach)
// to simulate the host page's own re-rendering, and attach OnClick hooks to
// model reactive expand/collapse behavior.
type FakeNode struct {
	Tag      string
	Attrs    map[string]string
	TextData string

	// OnClick runs when the node is clicked, before the click counter is
	// bumped visible to callers. Used to model host-driven rendering.
	OnClick func(n *FakeNode)

	// Clicks counts Click calls, so tests can assert interaction counts.
	Clicks int

	IsChecked bool
	Value     string
	Hidden    bool

	parent   *FakeNode
	children []*FakeNode
	detached bool
}

// NewFakeNode builds a node with the given tag and attribute pairs.
func NewFakeNode(tag string, attrPairs ...string) *FakeNode {
	attrs := make(map[string]string, len(attrPairs)/2)
	for i := 0; i+1 < len(attrPairs); i += 2 {
		attrs[attrPairs[i]] = attrPairs[i+1]
	}
	return &FakeNode{Tag: strings.ToLower(tag), Attrs: attrs}
}

// AppendChild attaches child as the last child of n.
func (n *FakeNode) AppendChild(child *FakeNode) *FakeNode {
	child.parent = n
	child.markAttached()
	n.children = append(n.children, child)
	return n
}

// Children returns the current child list.
func (n *FakeNode) Children() []*FakeNode { return n.children }

// Parent returns the parent node, nil at the root.
func (n *FakeNode) Parent() *FakeNode { return n.parent }

// Detach removes n from its parent, simulating a host re-render that
// replaced the subtree. Handles held by callers go stale.
func (n *FakeNode) Detach() {
	if n.parent != nil {
		siblings := n.parent.children
		for i, c := range siblings {
			if c == n {
				n.parent.children = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		n.parent = nil
	}
	n.markDetached()
}

func (n *FakeNode) markDetached() {
	n.detached = true
	for _, c := range n.children {
		c.markDetached()
	}
}

func (n *FakeNode) markAttached() {
	n.detached = false
	for _, c := range n.children {
		c.markAttached()
	}
}

func (n *FakeNode) walk(visit func(*FakeNode) bool) bool {
	for _, c := range n.children {
		if !visit(c) {
			return false
		}
		if !c.walk(visit) {
			return false
		}
	}
	return true
}

// Node interface.

func (n *FakeNode) Query(_ context.Context, selector string) (Node, error) {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	var found *FakeNode
	n.walk(func(c *FakeNode) bool {
		if sel.matches(c) {
			found = c
			return false
		}
		return true
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (n *FakeNode) QueryAll(_ context.Context, selector string) ([]Node, error) {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	var out []Node
	n.walk(func(c *FakeNode) bool {
		if sel.matches(c) {
			out = append(out, c)
		}
		return true
	})
	return out, nil
}

func (n *FakeNode) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := n.Attrs[name]
	return v, ok, nil
}

// SetAttr sets an attribute directly; test helper.
func (n *FakeNode) SetAttr(name, value string) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[name] = value
}

func (n *FakeNode) Text(_ context.Context) (string, error) {
	var b strings.Builder
	b.WriteString(n.TextData)
	n.walk(func(c *FakeNode) bool {
		b.WriteString(c.TextData)
		return true
	})
	return b.String(), nil
}

func (n *FakeNode) HTML(_ context.Context) (string, error) {
	var b strings.Builder
	b.WriteString(n.TextData)
	for _, c := range n.children {
		c.renderTo(&b)
	}
	return b.String(), nil
}

func (n *FakeNode) renderTo(b *strings.Builder) {
	b.WriteString("<" + n.Tag)
	for k, v := range n.Attrs {
		b.WriteString(" " + k + `="` + v + `"`)
	}
	b.WriteString(">")
	b.WriteString(n.TextData)
	for _, c := range n.children {
		c.renderTo(b)
	}
	b.WriteString("</" + n.Tag + ">")
}

func (n *FakeNode) Click(_ context.Context) error {
	if n.detached {
		return ErrDetached
	}
	if n.OnClick != nil {
		n.OnClick(n)
	}
	n.Clicks++
	return nil
}

func (n *FakeNode) Checked(_ context.Context) (bool, error) { return n.IsChecked, nil }

func (n *FakeNode) SetChecked(_ context.Context, checked bool) error {
	if n.detached {
		return ErrDetached
	}
	n.IsChecked = checked
	return nil
}

func (n *FakeNode) SetValue(_ context.Context, value string) error {
	if n.detached {
		return ErrDetached
	}
	n.Value = value
	return nil
}

func (n *FakeNode) Attached(_ context.Context) (bool, error) { return !n.detached, nil }

func (n *FakeNode) Visible(_ context.Context) (bool, error) { return !n.Hidden, nil }

func (n *FakeNode) InsertAfter(_ context.Context, fragment string) (Node, error) {
	if n.detached || n.parent == nil {
		return nil, ErrDetached
	}
	inserted, err := parseFragment(fragment)
	if err != nil {
		return nil, err
	}
	inserted.parent = n.parent
	inserted.markAttached()
	siblings := n.parent.children
	for i, c := range siblings {
		if c == n {
			rest := append([]*FakeNode{inserted}, siblings[i+1:]...)
			n.parent.children = append(siblings[:i+1:i+1], rest...)
			return inserted, nil
		}
	}
	return nil, ErrDetached
}

func (n *FakeNode) AppendHTML(_ context.Context, fragment string) (Node, error) {
	if n.detached {
		return nil, ErrDetached
	}
	appended, err := parseFragment(fragment)
	if err != nil {
		return nil, err
	}
	n.AppendChild(appended)
	return appended, nil
}

func (n *FakeNode) Remove(_ context.Context) error {
	n.Detach()
	return nil
}

// parseFragment converts an HTML fragment into a FakeNode subtree, keeping
// only the first top-level element.
func parseFragment(fragment string) (*FakeNode, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return nil, err
	}
	for _, hn := range nodes {
		if hn.Type == html.ElementNode {
			return fromHTMLNode(hn), nil
		}
	}
	return nil, ErrNotFound
}

func fromHTMLNode(hn *html.Node) *FakeNode {
	fn := NewFakeNode(hn.Data)
	for _, a := range hn.Attr {
		fn.SetAttr(a.Key, a.Val)
	}
	for c := hn.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			fn.AppendChild(fromHTMLNode(c))
		case html.TextNode:
			fn.TextData += c.Data
		}
	}
	return fn
}

// FakePage is the root of a fake tree, optionally holding embedded frames.
type FakePage struct {
	RootNode *FakeNode
	Location string
	frames   []fakeFrame

	// ScrollTops counts ScrollTop calls for assertions.
	ScrollTops int
}

type fakeFrame struct {
	node *FakeNode
	page *FakePage
}

// NewFakePage builds a page with an empty body.
func NewFakePage(url string) *FakePage {
	root := NewFakeNode("html")
	root.AppendChild(NewFakeNode("head"))
	root.AppendChild(NewFakeNode("body"))
	return &FakePage{RootNode: root, Location: url}
}

// FakeBody returns the body node for direct tree construction in tests.
func (p *FakePage) FakeBody() *FakeNode {
	for _, c := range p.RootNode.children {
		if c.Tag == "body" {
			return c
		}
	}
	return p.RootNode
}

// AddFrame registers page as the tree behind the given iframe node.
func (p *FakePage) AddFrame(node *FakeNode, page *FakePage) {
	p.frames = append(p.frames, fakeFrame{node: node, page: page})
}

func (p *FakePage) Query(ctx context.Context, selector string) (Node, error) {
	return p.RootNode.Query(ctx, selector)
}

func (p *FakePage) QueryAll(ctx context.Context, selector string) ([]Node, error) {
	return p.RootNode.QueryAll(ctx, selector)
}

func (p *FakePage) Has(ctx context.Context, selector string) (bool, error) {
	_, err := p.RootNode.Query(ctx, selector)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *FakePage) Frame(ctx context.Context, selector string) (Page, bool, error) {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil, false, err
	}
	for _, f := range p.frames {
		if sel.matches(f.node) && !f.node.detached {
			return f.page, true, nil
		}
	}
	return nil, false, nil
}

func (p *FakePage) Body(ctx context.Context) (Node, error) {
	return p.FakeBody(), nil
}

func (p *FakePage) ScrollTop(ctx context.Context) error {
	p.ScrollTops++
	return nil
}

func (p *FakePage) URL() string { return p.Location }
