// Package rubric defines the canonical rubric model shared by the layout
// detector, the hierarchical extractor and the grading pipeline, together
// with the ordering rules that reproduce the host page's own item numbering.
package rubric

import (
	"fmt"

	"rubricsync/internal/dom"
)

// Kind classifies one scoreable unit.
type Kind string

const (
	KindCheckbox      Kind = "CHECKBOX"
	KindRadio         Kind = "RADIO"
	KindCheckboxGroup Kind = "CHECKBOX_GROUP"
)

// Style describes the selection affordance of a structured rubric.
type Style string

const (
	StyleCheckbox Style = "CHECKBOX"
	StyleRadio    Style = "RADIO"
	StyleMixed    Style = "MIXED"
)

// Option is one selectable answer of a RADIO item, annotated with the
// credit level its points represent within the group.
type Option struct {
	Letter      string
	Description string
	Points      float64
	Credit      string
}

// Item is one rubric entry. Composite IDs take the form
// "<parentID>-<childToken>" for items nested inside a group. SourceRef is a
// non-owning handle into the rendered tree and may go stale after a host
// re-render; re-validate before use.
type Item struct {
	ID          string
	Description string
	Points      float64
	Kind        Kind
	Options     []Option // ordered; non-empty iff Kind == KindRadio
	SourceRef   dom.Node
}

// LayoutKind is the variant tag of a Snapshot.
type LayoutKind string

const (
	LayoutNone       LayoutKind = "none"
	LayoutStructured LayoutKind = "structured"
	LayoutManual     LayoutKind = "manual"
)

// Snapshot is the result of one extraction pass. Snapshots are produced
// fresh on every call and never mutated in place.
type Snapshot struct {
	Kind  LayoutKind
	Items []Item
	Style Style

	// ScoreRef is the numeric score control, manual layouts only.
	ScoreRef dom.Node
}

// CompositeID joins a group id and a child's short token.
func CompositeID(groupID, childToken string) string {
	return groupID + "-" + childToken
}

// CreditLabel annotates option points relative to the group maximum:
// the maximum is full credit, zero is none, anything else partial.
func CreditLabel(points, max float64) string {
	switch {
	case points == 0:
		return "No credit"
	case points == max:
		return "Full credit"
	default:
		return "Partial credit"
	}
}

// OptionLetter returns the single-letter label for the i-th option of a
// radio group, following the host UI's key-cap ordering. Indexes past the
// 26 key caps fall back to a numeric label.
func OptionLetter(i int) string {
	if i >= 0 && i < len(KeyRowOrder) {
		return string(KeyRowOrder[i])
	}
	return fmt.Sprintf("%d", i+1)
}
