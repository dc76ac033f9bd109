package extract

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rubricsync/internal/dom"
	"rubricsync/internal/rubric"
)

func keyed(tag, marker, key, desc, points string) *dom.FakeNode {
	n := dom.NewFakeNode(tag, marker, "")
	keyNode := dom.NewFakeNode("span", "data-item-key", "")
	keyNode.TextData = key
	descNode := dom.NewFakeNode("div", "data-item-description", "")
	descNode.TextData = desc
	pointsNode := dom.NewFakeNode("span", "data-item-points", "")
	pointsNode.TextData = points
	n.AppendChild(keyNode)
	n.AppendChild(descNode)
	n.AppendChild(pointsNode)
	return n
}

func itemNode(key, desc, points string, attrPairs ...string) *dom.FakeNode {
	n := keyed("div", "data-rubric-item", key, desc, points)
	for i := 0; i+1 < len(attrPairs); i += 2 {
		n.SetAttr(attrPairs[i], attrPairs[i+1])
	}
	n.AppendChild(dom.NewFakeNode("input", "type", "checkbox"))
	return n
}

func childNode(token, desc, points string) *dom.FakeNode {
	n := keyed("div", "data-rubric-child", token, desc, points)
	n.AppendChild(dom.NewFakeNode("input", "type", "checkbox"))
	return n
}

// fakeGroup models the host's reactive accordion: clicking the toggle
// flips data-collapsed and adds or removes the child subtree.
type fakeGroup struct {
	node     *dom.FakeNode
	toggle   *dom.FakeNode
	children []*dom.FakeNode
}

func newGroup(key, desc, points string, radio bool, children ...*dom.FakeNode) *fakeGroup {
	attrs := []string{"data-item-group", "true", "data-collapsed", "true"}
	if radio {
		attrs = append(attrs, "data-select-one", "true")
	}
	node := itemNode(key, desc, points, attrs...)
	toggle := dom.NewFakeNode("button", "data-group-toggle", "")
	node.AppendChild(toggle)

	g := &fakeGroup{node: node, toggle: toggle, children: children}
	toggle.OnClick = func(*dom.FakeNode) {
		if node.Attrs["data-collapsed"] == "true" {
			node.SetAttr("data-collapsed", "false")
			for _, c := range g.children {
				node.AppendChild(c)
			}
		} else {
			node.SetAttr("data-collapsed", "true")
			for _, c := range g.children {
				c.Detach()
			}
		}
	}
	return g
}

func extractorFor(page *dom.FakePage) *Extractor {
	return New(page, time.Millisecond)
}

var ignoreRefs = cmpopts.IgnoreFields(rubric.Item{}, "SourceRef")

func TestExtractFlatCheckboxes(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	page.FakeBody().AppendChild(itemNode("1", "Compiles cleanly", "2"))
	page.FakeBody().AppendChild(itemNode("2", "Missing error handling", "-1.5"))

	snap, err := extractorFor(page).Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rubric.LayoutStructured, snap.Kind)
	assert.Equal(t, rubric.StyleCheckbox, snap.Style)

	want := []rubric.Item{
		{ID: "1", Description: "Compiles cleanly", Points: 2, Kind: rubric.KindCheckbox},
		{ID: "2", Description: "Missing error handling", Points: -1.5, Kind: rubric.KindCheckbox},
	}
	if diff := cmp.Diff(want, snap.Items, ignoreRefs); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	for _, it := range snap.Items {
		assert.NotNil(t, it.SourceRef, "item %s should be bound to its node", it.ID)
	}
}

func TestExtractEncodedBlobBindsNodes(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	blob := base64.StdEncoding.EncodeToString([]byte(
		`[{"id":"RbA1","description":"<p>Missing <b>edge</b> case</p>","points":-2,"type":"CHECKBOX"},` +
			`{"id":"RbA2","description":"Style","points":1,"type":"RADIO",` +
			`"options":{"Q":"Clean","W":"Messy"}}]`))
	page.FakeBody().AppendChild(dom.NewFakeNode("div", "data-rubric-export", blob))
	rendered := itemNode("RbA1", "Missing edge case", "-2")
	page.FakeBody().AppendChild(rendered)

	snap, err := extractorFor(page).Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)

	first := snap.Items[0]
	assert.Equal(t, "RbA1", first.ID)
	assert.Equal(t, "Missing edge case", first.Description)
	assert.Same(t, rendered, first.SourceRef, "blob item should bind to its rendered node")

	second := snap.Items[1]
	assert.Equal(t, rubric.KindRadio, second.Kind)
	require.Len(t, second.Options, 2)
	assert.Equal(t, "Q", second.Options[0].Letter)
	assert.Equal(t, "Clean", second.Options[0].Description)
	assert.Nil(t, second.SourceRef, "no rendered node for this key")
}

func TestExtractCheckboxGroupRestoresCollapse(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	g := newGroup("3", "Error handling", "0", false,
		childNode("Q", "No nil checks", "-1"),
		childNode("W", "Swallowed errors", "-2"))
	page.FakeBody().AppendChild(g.node)

	snap, err := extractorFor(page).Extract(context.Background())
	require.NoError(t, err)

	want := []rubric.Item{
		{ID: "3", Description: "Error handling", Kind: rubric.KindCheckboxGroup},
		{ID: "3-Q", Description: "No nil checks", Points: -1, Kind: rubric.KindCheckbox},
		{ID: "3-W", Description: "Swallowed errors", Points: -2, Kind: rubric.KindCheckbox},
	}
	if diff := cmp.Diff(want, snap.Items, ignoreRefs); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 2, g.toggle.Clicks, "expand then restore")
	assert.Equal(t, "true", g.node.Attrs["data-collapsed"], "checkbox group restored")
}

func TestExtractRadioGroupLeftOpen(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	g := newGroup("5", "Overall design", "4", true,
		childNode("Q", "Excellent", "4"),
		childNode("W", "Adequate", "2"),
		childNode("E", "Poor", "0"))
	page.FakeBody().AppendChild(g.node)

	snap, err := extractorFor(page).Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)

	item := snap.Items[0]
	assert.Equal(t, rubric.KindRadio, item.Kind)
	require.Len(t, item.Options, 3)
	assert.Equal(t,
		[]rubric.Option{
			{Letter: "Q", Description: "Excellent", Points: 4, Credit: "Full credit"},
			{Letter: "W", Description: "Adequate", Points: 2, Credit: "Partial credit"},
			{Letter: "E", Description: "Poor", Points: 0, Credit: "No credit"},
		}, item.Options)

	assert.Equal(t, 1, g.toggle.Clicks, "radio accordion stays open")
	assert.Equal(t, "false", g.node.Attrs["data-collapsed"])
}

func TestExtractSecondPassHitsCache(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	g := newGroup("3", "Error handling", "0", false,
		childNode("Q", "No nil checks", "-1"))
	page.FakeBody().AppendChild(g.node)

	ex := extractorFor(page)
	first, err := ex.Extract(context.Background())
	require.NoError(t, err)
	clicksAfterFirst := g.toggle.Clicks

	second, err := ex.Extract(context.Background())
	require.NoError(t, err)

	assert.Equal(t, clicksAfterFirst, g.toggle.Clicks,
		"cached pass must not touch the tree")
	if diff := cmp.Diff(first.Items, second.Items, ignoreRefs); diff != "" {
		t.Errorf("cached snapshot differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, 1, ex.Cache().Len())
}

func TestExtractSkipsSettingsControl(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	child := childNode("Q", "No tests", "-3")
	node := itemNode("7", "Tests", "0",
		"data-item-group", "true", "data-collapsed", "true")
	// The settings control carries toggle markup and precedes the real
	// toggle in document order; it must still be skipped.
	settings := dom.NewFakeNode("button", "data-group-toggle", "", "data-settings-control", "true")
	node.AppendChild(settings)
	toggle := dom.NewFakeNode("button", "data-group-toggle", "")
	toggle.OnClick = func(*dom.FakeNode) {
		if node.Attrs["data-collapsed"] == "true" {
			node.SetAttr("data-collapsed", "false")
			node.AppendChild(child)
		} else {
			node.SetAttr("data-collapsed", "true")
			child.Detach()
		}
	}
	node.AppendChild(toggle)
	page.FakeBody().AppendChild(node)

	snap, err := extractorFor(page).Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)
	assert.Zero(t, settings.Clicks, "settings control must never be toggled")
	assert.Equal(t, 2, toggle.Clicks)
}

func TestExtractGroupWithoutToggleIsSkipped(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	broken := itemNode("9", "Broken group", "0", "data-item-group", "true", "data-collapsed", "true")
	page.FakeBody().AppendChild(broken)
	page.FakeBody().AppendChild(itemNode("1", "Still extracted", "2"))

	snap, err := extractorFor(page).Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "1", snap.Items[0].ID)
}

func TestExtractManualAndNoneLayouts(t *testing.T) {
	manual := dom.NewFakePage("https://host.test/grade")
	manual.FakeBody().AppendChild(dom.NewFakeNode("input", "type", "number", "name", "score"))
	snap, err := extractorFor(manual).Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rubric.LayoutManual, snap.Kind)
	assert.NotNil(t, snap.ScoreRef)
	assert.Empty(t, snap.Items)

	none := dom.NewFakePage("https://host.test/somewhere")
	snap, err = extractorFor(none).Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rubric.LayoutNone, snap.Kind)
}

func TestExtractDuplicateIDsLastWins(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	page.FakeBody().AppendChild(itemNode("1", "first rendering", "1"))
	page.FakeBody().AppendChild(itemNode("1", "replacement rendering", "2"))

	snap, err := extractorFor(page).Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "replacement rendering", snap.Items[0].Description)
	assert.Equal(t, 2.0, snap.Items[0].Points)
}

func TestResolveReexpandsStaleChild(t *testing.T) {
	ctx := context.Background()
	page := dom.NewFakePage("https://host.test/grade")
	g := newGroup("3", "Error handling", "0", false,
		childNode("Q", "No nil checks", "-1"))
	page.FakeBody().AppendChild(g.node)

	ex := extractorFor(page)
	_, err := ex.Extract(ctx)
	require.NoError(t, err)
	// The group was restored to collapsed, so the child handle is stale.
	require.Equal(t, "true", g.node.Attrs["data-collapsed"])

	node, err := ex.Resolve(ctx, "3-Q")
	require.NoError(t, err)
	attached, err := node.Attached(ctx)
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Equal(t, "false", g.node.Attrs["data-collapsed"],
		"resolution leaves the group open for the caller")

	entry, ok := ex.Cache().Get(ctx, "3")
	require.True(t, ok)
	require.Len(t, entry.Children, 1)
	assert.Same(t, node, entry.Children[0].Node, "cache rebound to the live node")
}

func TestResolveUnknownID(t *testing.T) {
	page := dom.NewFakePage("https://host.test/grade")
	page.FakeBody().AppendChild(itemNode("1", "only item", "1"))
	ex := extractorFor(page)
	_, err := ex.Extract(context.Background())
	require.NoError(t, err)

	_, err = ex.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, dom.ErrNotFound)
}

func TestParsePoints(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"2", 2, false},
		{" -1.5 ", -1.5, false},
		{"+3", 3, false},
		{"−2 pts", -2, false},
		{"4pt", 4, false},
		{"n/a", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		got, err := ParsePoints(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
