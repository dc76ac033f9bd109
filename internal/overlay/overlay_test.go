package overlay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rubricsync/internal/decision"
	"rubricsync/internal/dom"
)

type recordingSender struct {
	sent []*decision.Feedback
	err  error
}

func (s *recordingSender) SendFeedback(_ context.Context, fb *decision.Feedback) error {
	s.sent = append(s.sent, fb)
	return s.err
}

func anchorOn(page *dom.FakePage, id string) *dom.FakeNode {
	item := dom.NewFakeNode("div", "data-rubric-item", "", "data-key", id)
	page.FakeBody().AppendChild(item)
	return item
}

func checkDecision(conf float64) *decision.Decision {
	return &decision.Decision{
		Kind:       "CHECKBOX",
		Confidence: conf,
		Verdict: decision.Verdict{
			Decision: decision.VerdictCheck,
			Comment:  "matches the rubric wording",
			Evidence: "line 12: err is ignored",
		},
	}
}

func overlayNodes(t *testing.T, page *dom.FakePage, itemID string) []dom.Node {
	t.Helper()
	nodes, err := page.QueryAll(context.Background(),
		fmt.Sprintf(`[%s=%q]`, OverlayAttr, itemID))
	require.NoError(t, err)
	return nodes
}

func TestDisplayAtMostOnePerItem(t *testing.T) {
	ctx := context.Background()
	page := dom.NewFakePage("https://host.test/grade")
	anchor := anchorOn(page, "RbA1")
	m := NewManager(&recordingSender{})

	for i := 0; i < 3; i++ {
		_, err := m.Display(ctx, "RbA1", anchor, checkDecision(0.9))
		require.NoError(t, err)
	}

	assert.Len(t, overlayNodes(t, page, "RbA1"), 1, "exactly one overlay node")
	assert.Equal(t, 1, m.Count())
}

func TestDisplayRendersVerdictContent(t *testing.T) {
	ctx := context.Background()
	page := dom.NewFakePage("https://host.test/grade")
	anchor := anchorOn(page, "1")
	m := NewManager(&recordingSender{})

	ov, err := m.Display(ctx, "1", anchor, checkDecision(0.87))
	require.NoError(t, err)
	assert.Equal(t, StateShown, ov.State)

	text, err := ov.Node.Text(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "Check")
	assert.Contains(t, text, "87%")
	assert.Contains(t, text, "matches the rubric wording")
	assert.Contains(t, text, "err is ignored")
}

func TestDismissRemovesNode(t *testing.T) {
	ctx := context.Background()
	page := dom.NewFakePage("https://host.test/grade")
	anchor := anchorOn(page, "1")
	m := NewManager(&recordingSender{})

	_, err := m.Display(ctx, "1", anchor, checkDecision(0.9))
	require.NoError(t, err)
	require.NoError(t, m.Dismiss(ctx, "1"))

	assert.Empty(t, overlayNodes(t, page, "1"))
	ov, ok := m.Get("1")
	require.True(t, ok)
	assert.Equal(t, StateDismissed, ov.State)

	assert.Error(t, m.Dismiss(ctx, "nope"))
}

func TestFeedbackFlow(t *testing.T) {
	ctx := context.Background()
	page := dom.NewFakePage("https://host.test/grade")
	anchor := anchorOn(page, "3-Q")
	sender := &recordingSender{}
	m := NewManager(sender)

	_, err := m.Display(ctx, "3-Q", anchor, checkDecision(0.9))
	require.NoError(t, err)

	// Feedback requires the sub-flow to be opened first.
	err = m.SubmitFeedback(ctx, "3-Q", "q", "code", "wrong")
	require.Error(t, err)

	require.NoError(t, m.OpenFeedback(ctx, "3-Q"))
	require.NoError(t, m.SubmitFeedback(ctx, "3-Q", "No nil checks", "func main() {}", "line 40 checks nil"))

	require.Len(t, sender.sent, 1)
	fb := sender.sent[0]
	assert.Equal(t, "3-Q", fb.RubricItemID)
	assert.Equal(t, "Check", fb.OriginalDecision)
	assert.Equal(t, "line 40 checks nil", fb.UserFeedback)

	ov, _ := m.Get("3-Q")
	assert.Equal(t, StateFeedbackSent, ov.State)
}

func TestFeedbackDeliveryFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	page := dom.NewFakePage("https://host.test/grade")
	anchor := anchorOn(page, "1")
	m := NewManager(&recordingSender{err: errors.New("service down")})

	_, err := m.Display(ctx, "1", anchor, checkDecision(0.9))
	require.NoError(t, err)
	require.NoError(t, m.OpenFeedback(ctx, "1"))
	assert.NoError(t, m.SubmitFeedback(ctx, "1", "q", "a", "text"),
		"fire-and-forget: delivery failure does not surface")

	ov, _ := m.Get("1")
	assert.Equal(t, StateFeedbackSent, ov.State)
}

func TestClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	page := dom.NewFakePage("https://host.test/grade")
	m := NewManager(&recordingSender{})

	for _, id := range []string{"1", "2", "3"} {
		_, err := m.Display(ctx, id, anchorOn(page, id), checkDecision(0.9))
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Count())

	m.Clear(ctx)
	assert.Zero(t, m.Count())
	nodes, err := page.QueryAll(ctx, "["+OverlayAttr+"]")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestRadioSummary(t *testing.T) {
	dec := &decision.Decision{
		Kind:    "RADIO",
		Verdict: decision.Verdict{SelectedOption: "W"},
	}
	assert.Equal(t, "Select option W", summarize(dec))
}

func TestIndicatorBlocksAndHides(t *testing.T) {
	ctx := context.Background()
	page := dom.NewFakePage("https://host.test/grade")

	ind, err := ShowIndicator(ctx, page, "Collecting data")
	require.NoError(t, err)

	nodes, err := page.QueryAll(ctx, "["+IndicatorAttr+"]")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	text, err := nodes[0].Text(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "Collecting data")

	require.NoError(t, ind.Hide(ctx))
	nodes, err = page.QueryAll(ctx, "["+IndicatorAttr+"]")
	require.NoError(t, err)
	assert.Empty(t, nodes)

	assert.NoError(t, ind.Hide(ctx), "hide is idempotent")
}
