package dom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorSubset(t *testing.T) {
	page := NewFakePage("https://host.test/")
	body := page.FakeBody()
	body.AppendChild(NewFakeNode("div", "data-rubric-item", "", "class", "item active", "id", "first"))
	body.AppendChild(NewFakeNode("input", "type", "checkbox"))
	body.AppendChild(NewFakeNode("input", "type", "number", "name", "submission_score"))

	ctx := context.Background()
	tests := []struct {
		selector string
		want     int
	}{
		{`[data-rubric-item]`, 1},
		{`div`, 1},
		{`div.item`, 1},
		{`div.missing`, 0},
		{`#first`, 1},
		{`input[type="checkbox"]`, 1},
		{`input[type=checkbox]`, 1},
		{`[name^="submission"]`, 1},
		{`[name*="score"]`, 1},
		{`[name*="nope"]`, 0},
		{`div, input`, 3},
	}
	for _, tc := range tests {
		nodes, err := page.QueryAll(ctx, tc.selector)
		require.NoError(t, err, tc.selector)
		assert.Len(t, nodes, tc.want, tc.selector)
	}

	_, err := page.QueryAll(ctx, `div > input`)
	assert.Error(t, err, "combinators are not part of the subset")
}

func TestQueryScopedToNode(t *testing.T) {
	ctx := context.Background()
	page := NewFakePage("https://host.test/")
	outer := NewFakeNode("div", "data-rubric-item", "")
	inner := NewFakeNode("span", "data-item-key", "")
	outer.AppendChild(inner)
	page.FakeBody().AppendChild(outer)
	page.FakeBody().AppendChild(NewFakeNode("span", "data-item-key", ""))

	found, err := outer.Query(ctx, `[data-item-key]`)
	require.NoError(t, err)
	assert.Same(t, inner, found)

	all, err := page.QueryAll(ctx, `[data-item-key]`)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = outer.Query(ctx, `.absent`)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetachMarksSubtreeStale(t *testing.T) {
	ctx := context.Background()
	page := NewFakePage("https://host.test/")
	parent := NewFakeNode("div")
	child := NewFakeNode("span")
	parent.AppendChild(child)
	page.FakeBody().AppendChild(parent)

	attached, err := child.Attached(ctx)
	require.NoError(t, err)
	require.True(t, attached)

	parent.Detach()
	attached, err = child.Attached(ctx)
	require.NoError(t, err)
	assert.False(t, attached, "detaching the parent stales the whole subtree")

	assert.ErrorIs(t, child.SetChecked(ctx, true), ErrDetached)
	assert.ErrorIs(t, child.Click(ctx), ErrDetached)
}

func TestInsertAfterParsesFragment(t *testing.T) {
	ctx := context.Background()
	page := NewFakePage("https://host.test/")
	anchor := NewFakeNode("div", "id", "anchor")
	page.FakeBody().AppendChild(anchor)

	node, err := anchor.InsertAfter(ctx, `<div data-x="1" class="a b"><span>hi</span></div>`)
	require.NoError(t, err)

	fn := node.(*FakeNode)
	assert.Equal(t, "div", fn.Tag)
	assert.Equal(t, "1", fn.Attrs["data-x"])
	text, err := fn.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)

	// Sibling order: anchor first, inserted second.
	children := page.FakeBody().Children()
	require.Len(t, children, 2)
	assert.Same(t, anchor, children[0])
	assert.Same(t, fn, children[1])
}

func TestAppendHTMLAndRemove(t *testing.T) {
	ctx := context.Background()
	page := NewFakePage("https://host.test/")

	body, err := page.Body(ctx)
	require.NoError(t, err)
	node, err := body.AppendHTML(ctx, `<div data-blocking-indicator="true"></div>`)
	require.NoError(t, err)

	has, err := page.Has(ctx, `[data-blocking-indicator]`)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, node.Remove(ctx))
	has, err = page.Has(ctx, `[data-blocking-indicator]`)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFrameLookup(t *testing.T) {
	ctx := context.Background()
	outer := NewFakePage("https://host.test/outer")
	frameNode := NewFakeNode("iframe", "data-submission-frame", "")
	outer.FakeBody().AppendChild(frameNode)
	inner := NewFakePage("https://host.test/inner")
	outer.AddFrame(frameNode, inner)

	page, ok, err := outer.Frame(ctx, `iframe[data-submission-frame]`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://host.test/inner", page.URL())

	_, ok, err = outer.Frame(ctx, `iframe[data-other]`)
	require.NoError(t, err)
	assert.False(t, ok)

	// A detached frame node no longer resolves.
	frameNode.Detach()
	_, ok, err = outer.Frame(ctx, `iframe[data-submission-frame]`)
	require.NoError(t, err)
	assert.False(t, ok)
}
