// Package detect inspects the rendered tree of a grading tab and decides
// which of the known rubric renderings it is showing. Detection is
// side-effect-free: it only reads the tree, never expands or mutates it.
package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"rubricsync/internal/dom"
	"rubricsync/internal/logging"
	"rubricsync/internal/rubric"
)

// Marker selectors for the structured rubric renderings. The legacy layout
// renders the same markers inside a submission-scoped frame.
const (
	// FrameSelector matches the embedded sub-frame of the legacy layout.
	FrameSelector = `iframe[data-submission-frame]`

	// EncodedSelector carries a base64 JSON item list on modern flat
	// layouts; when present it outranks walking the rendered markers.
	EncodedSelector = `[data-rubric-export]`
	// EncodedAttr is the attribute holding the blob.
	EncodedAttr = "data-rubric-export"

	// ItemSelector matches top-level rubric item roots.
	ItemSelector = `[data-rubric-item]`
	// ChildSelector matches nested entries, present only while their group
	// is expanded.
	ChildSelector = `[data-rubric-child]`

	// KeySelector, DescSelector and PointsSelector match the sub-nodes of
	// an item or child entry.
	KeySelector    = `[data-item-key]`
	DescSelector   = `[data-item-description]`
	PointsSelector = `[data-item-points]`

	// ToggleSelector matches a group's own expand/collapse control.
	ToggleSelector = `[data-group-toggle]`
	// SettingsAttr marks controls that open an item's settings; these are
	// never a group toggle even when they carry toggle-like markup.
	SettingsAttr = "data-settings-control"

	// CheckboxSelector matches the apply control of a checkbox item.
	CheckboxSelector = `input[type="checkbox"]`

	// GroupAttr is "true" on collapsible group items.
	GroupAttr = "data-item-group"
	// CollapsedAttr is "true" while a group's children are out of the tree.
	CollapsedAttr = "data-collapsed"
	// SelectOneAttr is "true" on single-selection (radio) groups.
	SelectOneAttr = "data-select-one"
)

// scoreTokens are the name/placeholder/id fragments that identify a manual
// score input.
var scoreTokens = []string{"score", "grade", "points", "mark"}

// EncodedItem is one entry of the embedded base64 JSON item list.
type EncodedItem struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Points      float64           `json:"points"`
	Type        string            `json:"type"`
	Options     map[string]string `json:"options,omitempty"`
}

// Detection is the outcome of one detection pass. Tree is the rendered
// tree the markers were found in (the embedded frame when one matched).
type Detection struct {
	Kind    rubric.LayoutKind
	Style   rubric.Style
	Tree    dom.Page
	Grouped bool

	// Encoded holds the decoded blob items for blob-backed flat layouts.
	Encoded []EncodedItem

	// ItemNodes are the top-level item roots, document order.
	ItemNodes []dom.Node

	// ScoreRef is the score control of a manual layout.
	ScoreRef dom.Node
}

// Detector classifies the rubric rendering of one page.
type Detector struct {
	page dom.Page
}

// New returns a detector over the given page.
func New(page dom.Page) *Detector {
	return &Detector{page: page}
}

// Detect runs the detection ladder and returns exactly one layout variant:
// encoded blob, structured markers (flat or grouped), a manual score input,
// or none. First match wins; every step only reads the tree.
func (d *Detector) Detect(ctx context.Context) (*Detection, error) {
	tree := d.chooseTree(ctx)

	if det, ok, err := d.detectEncoded(ctx, tree); err != nil {
		return nil, err
	} else if ok {
		logging.Detect("layout=structured-flat source=encoded items=%d", len(det.Encoded))
		return det, nil
	}

	if det, ok, err := d.detectStructured(ctx, tree); err != nil {
		return nil, err
	} else if ok {
		logging.Detect("layout=structured grouped=%v style=%s items=%d",
			det.Grouped, det.Style, len(det.ItemNodes))
		return det, nil
	}

	if det, ok, err := d.detectManual(ctx, tree); err != nil {
		return nil, err
	} else if ok {
		logging.Detect("layout=manual")
		return det, nil
	}

	logging.Detect("layout=none url=%s", d.page.URL())
	return &Detection{Kind: rubric.LayoutNone, Tree: tree}, nil
}

// chooseTree prefers a submission-scoped frame's tree when one is present.
func (d *Detector) chooseTree(ctx context.Context) dom.Page {
	frame, ok, err := d.page.Frame(ctx, FrameSelector)
	if err != nil || !ok {
		return d.page
	}
	logging.DetectDebug("using embedded submission frame")
	return frame
}

func (d *Detector) detectEncoded(ctx context.Context, tree dom.Page) (*Detection, bool, error) {
	node, err := tree.Query(ctx, EncodedSelector)
	if err == dom.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	blob, ok, err := node.Attribute(ctx, EncodedAttr)
	if err != nil || !ok || blob == "" {
		return nil, false, err
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		logging.DetectDebug("encoded blob present but not base64: %v", err)
		return nil, false, nil
	}
	var items []EncodedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		logging.DetectDebug("encoded blob present but not an item list: %v", err)
		return nil, false, nil
	}
	if len(items) == 0 {
		return nil, false, nil
	}

	style := rubric.StyleCheckbox
	sawRadio, sawCheckbox := false, false
	for _, it := range items {
		if it.Type == string(rubric.KindRadio) {
			sawRadio = true
		} else {
			sawCheckbox = true
		}
	}
	switch {
	case sawRadio && sawCheckbox:
		style = rubric.StyleMixed
	case sawRadio:
		style = rubric.StyleRadio
	}

	return &Detection{
		Kind:    rubric.LayoutStructured,
		Style:   style,
		Tree:    tree,
		Encoded: items,
	}, true, nil
}

func (d *Detector) detectStructured(ctx context.Context, tree dom.Page) (*Detection, bool, error) {
	nodes, err := tree.QueryAll(ctx, ItemSelector)
	if err != nil && err != dom.ErrNotFound {
		return nil, false, err
	}
	if len(nodes) == 0 {
		return nil, false, nil
	}

	grouped := false
	sawRadio, sawPlain := false, false
	for _, n := range nodes {
		if attrTrue(ctx, n, GroupAttr) {
			grouped = true
			if attrTrue(ctx, n, SelectOneAttr) {
				sawRadio = true
				continue
			}
		}
		sawPlain = true
	}

	style := rubric.StyleCheckbox
	switch {
	case sawRadio && sawPlain:
		style = rubric.StyleMixed
	case sawRadio:
		style = rubric.StyleRadio
	}

	return &Detection{
		Kind:      rubric.LayoutStructured,
		Style:     style,
		Tree:      tree,
		Grouped:   grouped,
		ItemNodes: nodes,
	}, true, nil
}

func (d *Detector) detectManual(ctx context.Context, tree dom.Page) (*Detection, bool, error) {
	inputs, err := tree.QueryAll(ctx, `input[type="number"]`)
	if err != nil && err != dom.ErrNotFound {
		return nil, false, err
	}

	var score dom.Node
	for _, in := range inputs {
		if isScoreLike(ctx, in) {
			if score != nil {
				// More than one score-like input is not the manual layout.
				return nil, false, nil
			}
			score = in
		}
	}
	if score == nil {
		return nil, false, nil
	}
	return &Detection{Kind: rubric.LayoutManual, Tree: tree, ScoreRef: score}, true, nil
}

func isScoreLike(ctx context.Context, n dom.Node) bool {
	for _, attr := range []string{"name", "placeholder", "id"} {
		v, ok, err := n.Attribute(ctx, attr)
		if err != nil || !ok {
			continue
		}
		v = strings.ToLower(v)
		for _, tok := range scoreTokens {
			if strings.Contains(v, tok) {
				return true
			}
		}
	}
	return false
}

func attrTrue(ctx context.Context, n dom.Node, name string) bool {
	v, ok, err := n.Attribute(ctx, name)
	return err == nil && ok && v == "true"
}

// KeyOf reads an item node's short key token.
func KeyOf(ctx context.Context, n dom.Node) (string, error) {
	keyNode, err := n.Query(ctx, KeySelector)
	if err != nil {
		return "", fmt.Errorf("item key: %w", err)
	}
	txt, err := keyNode.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(txt), nil
}
