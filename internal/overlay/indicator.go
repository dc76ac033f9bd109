package overlay

import (
	"context"
	"fmt"
	"html"

	"rubricsync/internal/dom"
	"rubricsync/internal/logging"
)

// IndicatorAttr marks the blocking indicator node.
const IndicatorAttr = "data-blocking-indicator"

// Indicator is a transparent full-surface node that swallows the grader's
// pointer and keyboard input while the pipeline reads or writes the tree.
// It is the system's only mutual-exclusion mechanism.
type Indicator struct {
	node dom.Node
}

// ShowIndicator covers the grading surface with a blocking layer carrying
// the given status message.
func ShowIndicator(ctx context.Context, page dom.Page, message string) (*Indicator, error) {
	body, err := page.Body(ctx)
	if err != nil {
		return nil, fmt.Errorf("indicator: %w", err)
	}

	fragment := fmt.Sprintf(
		`<div %s="true" tabindex="0" style="position:fixed;inset:0;z-index:2147483647;`+
			`background:rgba(255,255,255,0.6);cursor:wait;">`+
			`<span class="rubricsync-indicator-message">%s</span></div>`,
		IndicatorAttr, html.EscapeString(message))

	node, err := body.AppendHTML(ctx, fragment)
	if err != nil {
		return nil, fmt.Errorf("indicator: %w", err)
	}
	logging.Overlay("blocking indicator shown: %s", message)
	return &Indicator{node: node}, nil
}

// Hide removes the indicator. Safe to call more than once.
func (i *Indicator) Hide(ctx context.Context) error {
	if i == nil || i.node == nil {
		return nil
	}
	err := i.node.Remove(ctx)
	i.node = nil
	logging.Overlay("blocking indicator hidden")
	return err
}
