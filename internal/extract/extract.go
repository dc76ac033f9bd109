// Package extract walks a detected rubric layout and flattens it into the
// canonical item list, expanding collapsed groups on demand. Group reads
// are cached so a second pass over the same rubric performs no
// expand/collapse interaction at all.
package extract

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rubricsync/internal/detect"
	"rubricsync/internal/dom"
	"rubricsync/internal/logging"
	"rubricsync/internal/rubric"
)

// Extractor produces rubric snapshots from a live page.
type Extractor struct {
	page   dom.Page
	det    *detect.Detector
	cache  *Cache
	settle time.Duration

	// lastTree is the tree the latest extraction ran against (the embedded
	// frame for the legacy layout). Resolve reuses it.
	lastTree dom.Page
}

// New returns an extractor over the page. settle is the wait inserted
// after toggling a group so the host's own reactive rendering can populate
// the subtree; tests inject a near-zero value.
func New(page dom.Page, settle time.Duration) *Extractor {
	return &Extractor{
		page:   page,
		det:    detect.New(page),
		cache:  NewCache(),
		settle: settle,
	}
}

// Cache exposes the extraction cache for lifecycle control.
func (e *Extractor) Cache() *Cache { return e.cache }

// Extract runs detection and flattens the result into a fresh snapshot.
// Snapshots are never mutated in place; callers own the returned value.
func (e *Extractor) Extract(ctx context.Context) (*rubric.Snapshot, error) {
	d, err := e.det.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect layout: %w", err)
	}
	e.lastTree = d.Tree

	switch d.Kind {
	case rubric.LayoutNone:
		return &rubric.Snapshot{Kind: rubric.LayoutNone}, nil
	case rubric.LayoutManual:
		return &rubric.Snapshot{Kind: rubric.LayoutManual, ScoreRef: d.ScoreRef}, nil
	}

	if d.Encoded != nil {
		return e.fromEncoded(ctx, d)
	}
	return e.fromMarkers(ctx, d)
}

// fromEncoded builds the snapshot from the embedded blob, binding each
// item to its rendered node by key where one exists.
func (e *Extractor) fromEncoded(ctx context.Context, d *detect.Detection) (*rubric.Snapshot, error) {
	index := e.keyIndex(ctx, d.Tree)

	items := make([]rubric.Item, 0, len(d.Encoded))
	for _, enc := range d.Encoded {
		item := rubric.Item{
			ID:          enc.ID,
			Description: FlattenMarkup(enc.Description),
			Points:      enc.Points,
			Kind:        rubric.Kind(enc.Type),
			SourceRef:   index[enc.ID],
		}
		if item.Kind == "" {
			item.Kind = rubric.KindCheckbox
		}
		if item.Kind == rubric.KindRadio {
			item.Options = optionsFromMap(enc.Options)
		}
		items = append(items, item)
	}
	return &rubric.Snapshot{Kind: rubric.LayoutStructured, Items: dedupe(items), Style: d.Style}, nil
}

// optionsFromMap orders blob options by the key-row position of their
// letters. The blob does not carry per-option points, so credit labels
// are omitted here.
func optionsFromMap(raw map[string]string) []rubric.Option {
	letters := make([]string, 0, len(raw))
	for l := range raw {
		letters = append(letters, l)
	}
	sort.Slice(letters, func(i, j int) bool {
		return rubric.LetterIndex(letters[i]) < rubric.LetterIndex(letters[j])
	})
	opts := make([]rubric.Option, 0, len(letters))
	for _, l := range letters {
		opts = append(opts, rubric.Option{Letter: l, Description: raw[l]})
	}
	return opts
}

// fromMarkers walks the rendered item roots in document order.
func (e *Extractor) fromMarkers(ctx context.Context, d *detect.Detection) (*rubric.Snapshot, error) {
	var items []rubric.Item
	for _, node := range d.ItemNodes {
		key, err := detect.KeyOf(ctx, node)
		if err != nil {
			logging.ExtractWarn("skipping item without key: %v", err)
			continue
		}
		desc := e.description(ctx, node)
		points := e.points(ctx, node, key)

		if !isGroup(ctx, node) {
			items = append(items, rubric.Item{
				ID: key, Description: desc, Points: points,
				Kind: rubric.KindCheckbox, SourceRef: node,
			})
			continue
		}

		entry, err := e.readGroup(ctx, node, key, isRadio(ctx, node))
		if err != nil {
			// A group whose toggle or children cannot be located is
			// skipped; the rest of the rubric still extracts.
			logging.ExtractWarn("skipping group %s: %v", key, err)
			continue
		}

		if isRadio(ctx, node) {
			items = append(items, rubric.Item{
				ID: key, Description: desc, Points: points,
				Kind:      rubric.KindRadio,
				Options:   entry.radioOptions(points),
				SourceRef: node,
			})
			continue
		}

		items = append(items, rubric.Item{
			ID: key, Description: desc, Points: points,
			Kind: rubric.KindCheckboxGroup, SourceRef: node,
		})
		for _, child := range entry.Children {
			items = append(items, rubric.Item{
				ID:          rubric.CompositeID(key, child.Token),
				Description: child.Description,
				Points:      child.Points,
				Kind:        rubric.KindCheckbox,
				SourceRef:   child.Node,
			})
		}
	}
	return &rubric.Snapshot{Kind: rubric.LayoutStructured, Items: dedupe(items), Style: d.Style}, nil
}

// radioOptions converts cached children to lettered options. The group's
// own points value is its declared maximum.
func (entry *Entry) radioOptions(max float64) []rubric.Option {
	opts := make([]rubric.Option, 0, len(entry.Children))
	for i, child := range entry.Children {
		opts = append(opts, rubric.Option{
			Letter:      rubric.OptionLetter(i),
			Description: child.Description,
			Points:      child.Points,
			Credit:      rubric.CreditLabel(child.Points, max),
		})
	}
	return opts
}

// readGroup returns the group's children, from cache when possible. A
// cache hit performs zero interactions. On a miss the group is expanded,
// read after the settle delay, and checkbox groups are restored to their
// original collapsed state; radio accordions are left open for the
// overlay manager.
func (e *Extractor) readGroup(ctx context.Context, node dom.Node, groupID string, radio bool) (*Entry, error) {
	if entry, ok := e.cache.Get(ctx, groupID); ok {
		logging.ExtractDebug("cache hit for group %s (%d children)", groupID, len(entry.Children))
		return entry, nil
	}

	toggle, err := groupToggle(ctx, node)
	if err != nil {
		return nil, err
	}

	wasCollapsed := attrTrue(ctx, node, detect.CollapsedAttr)
	if wasCollapsed {
		if err := toggle.Click(ctx); err != nil {
			return nil, fmt.Errorf("expand group: %w", err)
		}
		if err := e.waitSettle(ctx); err != nil {
			return nil, err
		}
	}

	childNodes, err := node.QueryAll(ctx, detect.ChildSelector)
	if err != nil {
		return nil, fmt.Errorf("group children: %w", err)
	}

	entry := &Entry{GroupID: groupID, Node: node}
	for _, cn := range childNodes {
		token, err := detect.KeyOf(ctx, cn)
		if err != nil {
			logging.ExtractWarn("group %s: child without key: %v", groupID, err)
			continue
		}
		entry.Children = append(entry.Children, Child{
			Token:       token,
			Description: e.description(ctx, cn),
			Points:      e.points(ctx, cn, rubric.CompositeID(groupID, token)),
			Node:        cn,
		})
	}

	if wasCollapsed && !radio {
		if err := toggle.Click(ctx); err != nil {
			logging.ExtractWarn("group %s: failed to restore collapsed state: %v", groupID, err)
		}
	}

	e.cache.Put(entry)
	logging.Extract("extracted group %s: %d children (radio=%v)", groupID, len(entry.Children), radio)
	return entry, nil
}

// Resolve maps an item id back to its current tree node, re-running the
// group expansion sequence for nested ids whose handle has gone stale. The
// group is intentionally left open: resolution happens on behalf of an
// overlay or an applied verdict, both of which need the node visible.
func (e *Extractor) Resolve(ctx context.Context, itemID string) (dom.Node, error) {
	tree := e.tree()

	if node, err := e.findItemNode(ctx, tree, itemID); err == nil {
		return node, nil
	}

	gid, token, ok := strings.Cut(itemID, "-")
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", itemID, dom.ErrNotFound)
	}

	groupNode, err := e.findItemNode(ctx, tree, gid)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: group %s: %w", itemID, gid, err)
	}

	if attrTrue(ctx, groupNode, detect.CollapsedAttr) {
		toggle, err := groupToggle(ctx, groupNode)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", itemID, err)
		}
		if err := toggle.Click(ctx); err != nil {
			return nil, fmt.Errorf("resolve %s: expand: %w", itemID, err)
		}
		if err := e.waitSettle(ctx); err != nil {
			return nil, err
		}
	}

	childNodes, err := groupNode.QueryAll(ctx, detect.ChildSelector)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: children: %w", itemID, err)
	}
	rebound := make(map[string]dom.Node, len(childNodes))
	var found dom.Node
	for _, cn := range childNodes {
		t, err := detect.KeyOf(ctx, cn)
		if err != nil {
			continue
		}
		rebound[t] = cn
		if t == token {
			found = cn
		}
	}
	e.cache.Rebind(gid, groupNode, rebound)

	if found == nil {
		return nil, fmt.Errorf("resolve %s: %w", itemID, dom.ErrNotFound)
	}
	return found, nil
}

func (e *Extractor) tree() dom.Page {
	if e.lastTree != nil {
		return e.lastTree
	}
	return e.page
}

// findItemNode scans top-level item roots for one with the given key.
func (e *Extractor) findItemNode(ctx context.Context, tree dom.Page, key string) (dom.Node, error) {
	nodes, err := tree.QueryAll(ctx, detect.ItemSelector)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		k, err := detect.KeyOf(ctx, n)
		if err == nil && k == key {
			return n, nil
		}
	}
	return nil, dom.ErrNotFound
}

// keyIndex maps item keys to their rendered roots.
func (e *Extractor) keyIndex(ctx context.Context, tree dom.Page) map[string]dom.Node {
	index := make(map[string]dom.Node)
	nodes, err := tree.QueryAll(ctx, detect.ItemSelector)
	if err != nil {
		return index
	}
	for _, n := range nodes {
		if k, err := detect.KeyOf(ctx, n); err == nil {
			index[k] = n
		}
	}
	return index
}

func (e *Extractor) description(ctx context.Context, node dom.Node) string {
	descNode, err := node.Query(ctx, detect.DescSelector)
	if err != nil {
		return ""
	}
	markup, err := descNode.HTML(ctx)
	if err != nil || markup == "" {
		if txt, terr := descNode.Text(ctx); terr == nil {
			return strings.TrimSpace(txt)
		}
		return ""
	}
	return FlattenMarkup(markup)
}

func (e *Extractor) points(ctx context.Context, node dom.Node, id string) float64 {
	pointsNode, err := node.Query(ctx, detect.PointsSelector)
	if err != nil {
		logging.ExtractDebug("item %s: no points node", id)
		return 0
	}
	txt, err := pointsNode.Text(ctx)
	if err != nil {
		return 0
	}
	p, err := ParsePoints(txt)
	if err != nil {
		logging.ExtractWarn("item %s: unparseable points %q", id, txt)
		return 0
	}
	return p
}

// ParsePoints reads a signed point value out of the host's display text,
// tolerating unicode minus signs and "pts" suffixes.
func ParsePoints(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "−", "-") // minus sign
	s = strings.ReplaceAll(s, "–", "-") // en dash used as minus
	s = strings.TrimSuffix(s, "pts")
	s = strings.TrimSuffix(s, "pt")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	return strconv.ParseFloat(s, 64)
}

// waitSettle pauses for the injected settle delay, honoring cancellation.
func (e *Extractor) waitSettle(ctx context.Context) error {
	if e.settle <= 0 {
		return nil
	}
	timer := time.NewTimer(e.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// groupToggle locates the group's own expand control, skipping settings
// controls that sit next to it in the same subtree.
func groupToggle(ctx context.Context, group dom.Node) (dom.Node, error) {
	toggles, err := group.QueryAll(ctx, detect.ToggleSelector)
	if err != nil {
		return nil, fmt.Errorf("group toggle: %w", err)
	}
	for _, t := range toggles {
		if _, isSettings, _ := t.Attribute(ctx, detect.SettingsAttr); isSettings {
			continue
		}
		return t, nil
	}
	return nil, fmt.Errorf("group toggle: %w", dom.ErrNotFound)
}

func isGroup(ctx context.Context, n dom.Node) bool {
	return attrTrue(ctx, n, detect.GroupAttr)
}

func isRadio(ctx context.Context, n dom.Node) bool {
	return attrTrue(ctx, n, detect.SelectOneAttr)
}

func attrTrue(ctx context.Context, n dom.Node, name string) bool {
	v, ok, err := n.Attribute(ctx, name)
	return err == nil && ok && v == "true"
}

// dedupe enforces id uniqueness within one snapshot. Sibling groups could
// in principle mint colliding child tokens; when that happens the later
// extraction wins and the collision is logged rather than fatal.
func dedupe(items []rubric.Item) []rubric.Item {
	seen := make(map[string]int, len(items))
	out := items[:0]
	for _, it := range items {
		if idx, dup := seen[it.ID]; dup {
			logging.ExtractWarn("duplicate item id %s; keeping latest", it.ID)
			out[idx] = it
			continue
		}
		seen[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}
