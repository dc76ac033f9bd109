package dom

import (
	"context"
	"errors"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// LivePage adapts a rod page (one Chrome target) to the Page interface.
// Element lookups use the not-found sleeper so a missing marker reports
// ErrNotFound immediately instead of retrying until timeout; the grading
// page has either rendered its rubric or it has not.
type LivePage struct {
	page *rod.Page
}

// NewLivePage wraps a connected rod page.
func NewLivePage(page *rod.Page) *LivePage {
	return &LivePage{page: page.Sleeper(rod.NotFoundSleeper)}
}

func mapRodErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, &rod.ElementNotFoundError{}) {
		return ErrNotFound
	}
	return err
}

func (p *LivePage) Query(ctx context.Context, selector string) (Node, error) {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, mapRodErr(err)
	}
	return &liveNode{el: el}, nil
}

func (p *LivePage) QueryAll(ctx context.Context, selector string) ([]Node, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, mapRodErr(err)
	}
	out := make([]Node, 0, len(els))
	for _, el := range els {
		out = append(out, &liveNode{el: el})
	}
	return out, nil
}

func (p *LivePage) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	return has, err
}

func (p *LivePage) Frame(ctx context.Context, selector string) (Page, bool, error) {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		if errors.Is(mapRodErr(err), ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	framePage, err := el.Frame()
	if err != nil {
		return nil, false, err
	}
	return NewLivePage(framePage), true, nil
}

func (p *LivePage) Body(ctx context.Context) (Node, error) {
	return p.Query(ctx, "body")
}

func (p *LivePage) ScrollTop(ctx context.Context) error {
	_, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      `() => { window.scrollTo({top: 0, behavior: "instant"}); }`,
		ByValue: true,
	})
	return err
}

func (p *LivePage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

type liveNode struct {
	el *rod.Element
}

func (n *liveNode) Query(ctx context.Context, selector string) (Node, error) {
	el, err := n.el.Context(ctx).Element(selector)
	if err != nil {
		return nil, mapRodErr(err)
	}
	return &liveNode{el: el}, nil
}

func (n *liveNode) QueryAll(ctx context.Context, selector string) ([]Node, error) {
	els, err := n.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, mapRodErr(err)
	}
	out := make([]Node, 0, len(els))
	for _, el := range els {
		out = append(out, &liveNode{el: el})
	}
	return out, nil
}

func (n *liveNode) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := n.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, mapRodErr(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (n *liveNode) Text(ctx context.Context) (string, error) {
	return n.el.Context(ctx).Text()
}

func (n *liveNode) HTML(ctx context.Context) (string, error) {
	res, err := n.el.Context(ctx).Eval(`() => this.innerHTML`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (n *liveNode) Click(ctx context.Context) error {
	return n.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (n *liveNode) Checked(ctx context.Context) (bool, error) {
	res, err := n.el.Context(ctx).Eval(`() => !!this.checked`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (n *liveNode) SetChecked(ctx context.Context, checked bool) error {
	_, err := n.el.Context(ctx).Eval(`(checked) => {
		this.checked = checked;
		this.dispatchEvent(new Event("change", { bubbles: true }));
	}`, checked)
	return err
}

func (n *liveNode) SetValue(ctx context.Context, value string) error {
	_, err := n.el.Context(ctx).Eval(`(value) => {
		this.value = value;
		this.dispatchEvent(new Event("input", { bubbles: true }));
		this.dispatchEvent(new Event("change", { bubbles: true }));
	}`, value)
	return err
}

func (n *liveNode) Attached(ctx context.Context) (bool, error) {
	res, err := n.el.Context(ctx).Eval(`() => this.isConnected`)
	if err != nil {
		// A handle the page can no longer resolve is detached by definition.
		return false, nil
	}
	return res.Value.Bool(), nil
}

func (n *liveNode) Visible(ctx context.Context) (bool, error) {
	return n.el.Context(ctx).Visible()
}

func (n *liveNode) InsertAfter(ctx context.Context, html string) (Node, error) {
	_, err := n.el.Context(ctx).Eval(`(html) => {
		this.insertAdjacentHTML("afterend", html);
	}`, html)
	if err != nil {
		return nil, err
	}
	next, err := n.el.Context(ctx).Next()
	if err != nil {
		return nil, mapRodErr(err)
	}
	return &liveNode{el: next}, nil
}

func (n *liveNode) AppendHTML(ctx context.Context, html string) (Node, error) {
	_, err := n.el.Context(ctx).Eval(`(html) => {
		this.insertAdjacentHTML("beforeend", html);
	}`, html)
	if err != nil {
		return nil, err
	}
	last, err := n.el.Context(ctx).Element(":scope > :last-child")
	if err != nil {
		return nil, mapRodErr(err)
	}
	return &liveNode{el: last}, nil
}

func (n *liveNode) Remove(ctx context.Context) error {
	return n.el.Context(ctx).Remove()
}
