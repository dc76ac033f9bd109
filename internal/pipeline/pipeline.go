// Package pipeline orchestrates one grading run: extract the rubric,
// gather submission files, post the payload, consume the decision stream
// and apply each decision back onto the live page.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rubricsync/internal/config"
	"rubricsync/internal/decision"
	"rubricsync/internal/dom"
	"rubricsync/internal/extract"
	"rubricsync/internal/logging"
	"rubricsync/internal/overlay"
	"rubricsync/internal/rubric"
)

// Identity names the submission being graded, parsed once from the tab's
// URL before the pipeline runs.
type Identity struct {
	CourseID       string
	AssignmentID   string
	SubmissionID   int64
	AssignmentName string
}

// Error is a pipeline failure tagged with the stage it occurred in.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Streamer opens a grading decision stream.
type Streamer interface {
	Stream(ctx context.Context, payload *decision.Payload) (<-chan decision.Event, <-chan error)
}

// FileSource resolves a submission's source files.
type FileSource interface {
	Files(ctx context.Context, courseID string, submissionID int64) (map[string]string, error)
	Clear()
}

// Pipeline drives grading runs against one page. All three caches live on
// the pipeline instance and are cleared explicitly, never shared globally.
type Pipeline struct {
	page     dom.Page
	ex       *extract.Extractor
	files    FileSource
	svc      Streamer
	overlays *overlay.Manager

	autoApply bool
	threshold float64
	quiet     time.Duration

	decisions  map[string]*decision.Decision
	snapshot   *rubric.Snapshot
	lastCourse string
}

// New wires a pipeline from its collaborators.
func New(page dom.Page, ex *extract.Extractor, files FileSource, svc Streamer,
	overlays *overlay.Manager, cfg *config.Config) *Pipeline {
	return &Pipeline{
		page:      page,
		ex:        ex,
		files:     files,
		svc:       svc,
		overlays:  overlays,
		autoApply: cfg.Pipeline.AutoApply,
		threshold: cfg.Pipeline.ConfidenceThreshold,
		quiet:     config.Duration(cfg.Pipeline.QuietPeriod, time.Second),
		decisions: make(map[string]*decision.Decision),
	}
}

// Decision returns the cached decision for an item id, if one arrived.
func (p *Pipeline) Decision(itemID string) (*decision.Decision, bool) {
	dec, ok := p.decisions[itemID]
	return dec, ok
}

// Grade runs one full grading pass. A new call supersedes any prior run:
// it first clears the extraction cache, the decision cache and all
// overlays. The file cache survives across sibling questions of the same
// course and is dropped only when the course changes.
func (p *Pipeline) Grade(ctx context.Context, id Identity) error {
	run := uuid.NewString()[:8]
	logging.Pipeline("grade run %s: course=%s assignment=%s submission=%d",
		run, id.CourseID, id.AssignmentID, id.SubmissionID)

	p.ex.Cache().Clear()
	p.decisions = make(map[string]*decision.Decision)
	p.overlays.Clear(ctx)
	if p.lastCourse != "" && p.lastCourse != id.CourseID {
		p.files.Clear()
	}
	p.lastCourse = id.CourseID

	collecting, err := overlay.ShowIndicator(ctx, p.page, "Collecting data")
	if err != nil {
		return &Error{Stage: "indicator", Err: err}
	}

	snap, err := p.ex.Extract(ctx)
	if err != nil {
		collecting.Hide(ctx)
		return &Error{Stage: "extract", Err: err}
	}
	if snap.Kind != rubric.LayoutStructured || len(snap.Items) == 0 {
		collecting.Hide(ctx)
		return &Error{Stage: "extract",
			Err: fmt.Errorf("no structured rubric on this page (layout %s)", snap.Kind)}
	}
	p.snapshot = snap

	files, err := p.files.Files(ctx, id.CourseID, id.SubmissionID)
	if err != nil {
		collecting.Hide(ctx)
		return &Error{Stage: "files", Err: err}
	}

	payload := &decision.Payload{
		AssignmentContext: decision.AssignmentContext{
			CourseID:       id.CourseID,
			AssignmentID:   id.AssignmentID,
			SubmissionID:   id.SubmissionID,
			AssignmentName: id.AssignmentName,
		},
		SourceFiles: files,
		RubricItems: decision.OutboundItems(snap.Items),
	}

	collecting.Hide(ctx)
	events, errs := p.svc.Stream(ctx, payload)

	return p.consume(ctx, events, errs)
}

// consume applies stream events in arrival order, never reordered or
// batched. A processing indicator covers the surface from the first event
// until a short quiet period after the last one.
func (p *Pipeline) consume(ctx context.Context, events <-chan decision.Event, errs <-chan error) error {
	var processing *overlay.Indicator
	defer func() {
		if processing != nil {
			processing.Hide(ctx)
		}
	}()

	applied := 0
	for evt := range events {
		if processing == nil {
			ind, err := overlay.ShowIndicator(ctx, p.page, "Processing suggestions")
			if err != nil {
				logging.PipelineWarn("processing indicator: %v", err)
			} else {
				processing = ind
			}
		}

		switch evt.Type {
		case decision.EventPartialResult:
			if evt.Decision == nil || evt.RubricItemID == "" {
				logging.PipelineWarn("partial result without decision, skipping")
				continue
			}
			p.decisions[evt.RubricItemID] = evt.Decision
			if err := p.apply(ctx, evt.RubricItemID, evt.Decision); err != nil {
				logging.PipelineWarn("apply %s: %v", evt.RubricItemID, err)
			} else {
				applied++
			}

		case decision.EventJobComplete:
			logging.Pipeline("stream complete, %d decisions applied", applied)
		}
	}

	if err := <-errs; err != nil {
		// Already-applied decisions stay in place.
		return &Error{Stage: "stream", Err: err}
	}

	if err := p.waitQuiet(ctx); err != nil {
		return err
	}
	if processing != nil {
		processing.Hide(ctx)
		processing = nil
	}

	if err := p.page.ScrollTop(ctx); err != nil {
		logging.PipelineWarn("scroll to top: %v", err)
	}
	return nil
}

// apply shows the suggestion overlay for one decision and, when auto-apply
// is on and the confidence clears the threshold, mutates the control.
func (p *Pipeline) apply(ctx context.Context, itemID string, dec *decision.Decision) error {
	item, ok := p.item(itemID)
	if !ok {
		return fmt.Errorf("decision for unknown item %s", itemID)
	}

	node, err := p.resolveNode(ctx, item)
	if err != nil {
		return fmt.Errorf("resolve node: %w", err)
	}

	if _, err := p.overlays.Display(ctx, itemID, node, dec); err != nil {
		return err
	}

	if !p.autoApply || dec.Confidence < p.threshold {
		return nil
	}

	switch item.Kind {
	case rubric.KindCheckbox:
		return p.applyCheckbox(ctx, node, dec)
	case rubric.KindRadio:
		return p.applyRadio(ctx, item, dec)
	}
	return nil
}

func (p *Pipeline) applyCheckbox(ctx context.Context, node dom.Node, dec *decision.Decision) error {
	box, err := node.Query(ctx, `input[type="checkbox"]`)
	if err != nil {
		return fmt.Errorf("checkbox control: %w", err)
	}
	want := dec.Verdict.Decision == decision.VerdictCheck
	current, err := box.Checked(ctx)
	if err == nil && current == want {
		return nil
	}
	logging.Pipeline("auto-apply: %s checkbox -> %v (confidence %.2f)",
		dec.Verdict.Decision, want, dec.Confidence)
	return box.SetChecked(ctx, want)
}

// applyRadio selects the option whose letter the verdict names. Letters
// map to child positions through the key-row ordering.
func (p *Pipeline) applyRadio(ctx context.Context, item rubric.Item, dec *decision.Decision) error {
	idx := rubric.LetterIndex(dec.Verdict.SelectedOption)
	if idx < 0 || idx >= len(item.Options) {
		return fmt.Errorf("verdict names option %q, group has %d options",
			dec.Verdict.SelectedOption, len(item.Options))
	}

	entry, ok := p.ex.Cache().Get(ctx, item.ID)
	if !ok || idx >= len(entry.Children) {
		return fmt.Errorf("no cached children for group %s", item.ID)
	}

	// The group node can stay attached while the host re-renders just the
	// accordion body, leaving the cached child handle stale.
	child := entry.Children[idx]
	node := child.Node
	if node != nil {
		if attached, err := node.Attached(ctx); err != nil || !attached {
			logging.PipelineDebug("stale child handle for %s-%s, re-resolving", item.ID, child.Token)
			node = nil
		}
	}
	if node == nil {
		resolved, err := p.ex.Resolve(ctx, rubric.CompositeID(item.ID, child.Token))
		if err != nil {
			return fmt.Errorf("resolve option %s: %w", dec.Verdict.SelectedOption, err)
		}
		node = resolved
	}

	logging.Pipeline("auto-apply: select option %s of group %s (confidence %.2f)",
		dec.Verdict.SelectedOption, item.ID, dec.Confidence)
	if control, err := node.Query(ctx, "input"); err == nil {
		return control.Click(ctx)
	}
	return node.Click(ctx)
}

// resolveNode returns a live node for the item, falling back to re-running
// resolution when the snapshot's handle has gone stale.
func (p *Pipeline) resolveNode(ctx context.Context, item rubric.Item) (dom.Node, error) {
	if item.SourceRef != nil {
		attached, err := item.SourceRef.Attached(ctx)
		if err == nil && attached {
			return item.SourceRef, nil
		}
		logging.PipelineDebug("stale handle for %s, re-resolving", item.ID)
	}
	return p.ex.Resolve(ctx, item.ID)
}

func (p *Pipeline) item(itemID string) (rubric.Item, bool) {
	if p.snapshot == nil {
		return rubric.Item{}, false
	}
	for _, it := range p.snapshot.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return rubric.Item{}, false
}

// RedisplayGroup re-shows cached decisions for a group's children after
// the grader re-expands it, without re-querying the remote service.
func (p *Pipeline) RedisplayGroup(ctx context.Context, groupID string) error {
	prefix := groupID + "-"
	shown := 0
	for itemID, dec := range p.decisions {
		if len(itemID) <= len(prefix) || itemID[:len(prefix)] != prefix {
			continue
		}
		node, err := p.ex.Resolve(ctx, itemID)
		if err != nil {
			logging.PipelineWarn("redisplay %s: %v", itemID, err)
			continue
		}
		if _, err := p.overlays.Display(ctx, itemID, node, dec); err != nil {
			logging.PipelineWarn("redisplay %s: %v", itemID, err)
			continue
		}
		shown++
	}
	logging.Pipeline("redisplayed %d cached decisions for group %s", shown, groupID)
	return nil
}

func (p *Pipeline) waitQuiet(ctx context.Context) error {
	if p.quiet <= 0 {
		return nil
	}
	timer := time.NewTimer(p.quiet)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
