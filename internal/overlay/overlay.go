// Package overlay renders decision suggestions next to their rubric items
// and runs the disagreement-feedback sub-flow. At most one overlay exists
// per item id; creating a new one first removes the old one.
package overlay

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	"rubricsync/internal/decision"
	"rubricsync/internal/dom"
	"rubricsync/internal/logging"
)

// OverlayAttr carries the owning item id on every overlay node.
const OverlayAttr = "data-suggestion-overlay"

// stateAttr mirrors the overlay's state onto the node for styling.
const stateAttr = "data-suggestion-state"

// State is an overlay's lifecycle position.
type State string

const (
	StateShown        State = "shown"
	StateDismissed    State = "dismissed"
	StateFeedbackOpen State = "feedback-open"
	StateFeedbackSent State = "feedback-sent"
)

// FeedbackSender posts a disagreement report.
type FeedbackSender interface {
	SendFeedback(ctx context.Context, fb *decision.Feedback) error
}

// Overlay is one rendered suggestion.
type Overlay struct {
	ItemID   string
	Node     dom.Node
	State    State
	Decision *decision.Decision
}

// Manager owns all suggestion overlays of one grading session.
type Manager struct {
	sender FeedbackSender

	mu       sync.Mutex
	overlays map[string]*Overlay
}

// NewManager builds an empty manager.
func NewManager(sender FeedbackSender) *Manager {
	return &Manager{
		sender:   sender,
		overlays: make(map[string]*Overlay),
	}
}

// Display shows a suggestion for itemID anchored after its rubric node.
// Any existing overlay for the same id is removed first, so two overlays
// for one id never coexist.
func (m *Manager) Display(ctx context.Context, itemID string, anchor dom.Node, dec *decision.Decision) (*Overlay, error) {
	m.removeExisting(ctx, itemID)

	node, err := anchor.InsertAfter(ctx, render(itemID, dec))
	if err != nil {
		return nil, fmt.Errorf("insert overlay for %s: %w", itemID, err)
	}

	ov := &Overlay{ItemID: itemID, Node: node, State: StateShown, Decision: dec}
	m.mu.Lock()
	m.overlays[itemID] = ov
	m.mu.Unlock()

	logging.Overlay("displayed suggestion for %s (confidence %.2f)", itemID, dec.Confidence)
	return ov, nil
}

// Dismiss removes the overlay node and marks it dismissed. The record is
// kept so the state survives for the session.
func (m *Manager) Dismiss(ctx context.Context, itemID string) error {
	m.mu.Lock()
	ov, ok := m.overlays[itemID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("overlay: no overlay for %s", itemID)
	}

	if ov.Node != nil {
		if err := ov.Node.Remove(ctx); err != nil {
			logging.OverlayWarn("dismiss %s: node removal failed: %v", itemID, err)
		}
		ov.Node = nil
	}
	ov.State = StateDismissed
	return nil
}

// OpenFeedback transitions an overlay into its feedback sub-flow.
func (m *Manager) OpenFeedback(ctx context.Context, itemID string) error {
	return m.transition(itemID, StateShown, StateFeedbackOpen)
}

// SubmitFeedback posts the grader's disagreement and closes the sub-flow.
// Delivery failures are logged, not surfaced; from the grader's standpoint
// the report is fire-and-forget.
func (m *Manager) SubmitFeedback(ctx context.Context, itemID, question, assignment, text string) error {
	m.mu.Lock()
	ov, ok := m.overlays[itemID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("overlay: no overlay for %s", itemID)
	}
	if ov.State != StateFeedbackOpen {
		return fmt.Errorf("overlay: %s is %s, feedback not open", itemID, ov.State)
	}

	fb := &decision.Feedback{
		RubricItemID:      itemID,
		RubricQuestion:    question,
		StudentAssignment: assignment,
		OriginalDecision:  summarize(ov.Decision),
		UserFeedback:      text,
	}
	if err := m.sender.SendFeedback(ctx, fb); err != nil {
		logging.OverlayWarn("feedback for %s not delivered: %v", itemID, err)
	}

	ov.State = StateFeedbackSent
	return nil
}

// Get returns the overlay for itemID.
func (m *Manager) Get(itemID string) (*Overlay, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ov, ok := m.overlays[itemID]
	return ov, ok
}

// Count reports how many overlay nodes are currently in the tree.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ov := range m.overlays {
		if ov.Node != nil {
			n++
		}
	}
	return n
}

// Clear removes every overlay node and forgets all records; called at the
// start of each grading run.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	overlays := m.overlays
	m.overlays = make(map[string]*Overlay)
	m.mu.Unlock()

	for id, ov := range overlays {
		if ov.Node == nil {
			continue
		}
		if err := ov.Node.Remove(ctx); err != nil {
			logging.OverlayWarn("clear: removing overlay %s: %v", id, err)
		}
	}
}

func (m *Manager) removeExisting(ctx context.Context, itemID string) {
	m.mu.Lock()
	ov, ok := m.overlays[itemID]
	delete(m.overlays, itemID)
	m.mu.Unlock()
	if !ok || ov.Node == nil {
		return
	}
	if err := ov.Node.Remove(ctx); err != nil {
		logging.OverlayWarn("replacing overlay %s: removal failed: %v", itemID, err)
	}
}

func (m *Manager) transition(itemID string, from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ov, ok := m.overlays[itemID]
	if !ok {
		return fmt.Errorf("overlay: no overlay for %s", itemID)
	}
	if ov.State != from {
		return fmt.Errorf("overlay: %s is %s, expected %s", itemID, ov.State, from)
	}
	ov.State = to
	return nil
}

// render builds the overlay fragment. Content is escaped; the host page
// styles it by the marker attributes.
func render(itemID string, dec *decision.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div %s=%q %s=%q class="rubricsync-suggestion">`,
		OverlayAttr, itemID, stateAttr, StateShown)
	fmt.Fprintf(&b, `<span class="rubricsync-verdict">%s</span>`,
		html.EscapeString(summarize(dec)))
	fmt.Fprintf(&b, `<span class="rubricsync-confidence">%d%%</span>`,
		int(dec.Confidence*100))
	if dec.Verdict.Comment != "" {
		fmt.Fprintf(&b, `<p class="rubricsync-comment">%s</p>`,
			html.EscapeString(dec.Verdict.Comment))
	}
	if dec.Verdict.Evidence != "" {
		fmt.Fprintf(&b, `<blockquote class="rubricsync-evidence">%s</blockquote>`,
			html.EscapeString(dec.Verdict.Evidence))
	}
	b.WriteString(`<button class="rubricsync-dismiss">Dismiss</button>`)
	b.WriteString(`<button class="rubricsync-disagree">Disagree</button>`)
	b.WriteString(`</div>`)
	return b.String()
}

// summarize renders a decision's verdict as the short label shown in the
// overlay and echoed back in feedback reports.
func summarize(dec *decision.Decision) string {
	if dec == nil {
		return ""
	}
	if dec.Verdict.SelectedOption != "" {
		return "Select option " + dec.Verdict.SelectedOption
	}
	switch dec.Verdict.Decision {
	case decision.VerdictCheck:
		return "Check"
	case decision.VerdictUncheck:
		return "Leave unchecked"
	}
	return dec.Verdict.Decision
}
