// Package decision is the boundary to the remote decision service: it
// serializes the outbound rubric+files payload, consumes the server-sent
// event stream of grading decisions, and posts disagreement feedback.
package decision

import (
	"rubricsync/internal/rubric"
)

// Stream event types.
const (
	EventPartialResult = "partial_result"
	EventJobComplete   = "job_complete"
	EventError         = "error"
)

// Checkbox verdict values.
const (
	VerdictCheck   = "check"
	VerdictUncheck = "uncheck"
)

// AssignmentContext identifies the submission being graded.
type AssignmentContext struct {
	CourseID       string `json:"course_id"`
	AssignmentID   string `json:"assignment_id"`
	SubmissionID   int64  `json:"submission_id"`
	AssignmentName string `json:"assignment_name"`
}

// OutboundItem is one rubric item as serialized for the service.
type OutboundItem struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Points      float64           `json:"points"`
	Type        string            `json:"type"`
	Options     map[string]string `json:"options,omitempty"`
}

// Payload is the grading request body.
type Payload struct {
	AssignmentContext AssignmentContext `json:"assignment_context"`
	SourceFiles       map[string]string `json:"source_files"`
	RubricItems       []OutboundItem    `json:"rubric_items"`
}

// Verdict is the service's answer for one item. Decision is set for
// CHECKBOX items, SelectedOption for RADIO items.
type Verdict struct {
	Decision       string `json:"decision,omitempty"`
	SelectedOption string `json:"selected_option,omitempty"`
	Comment        string `json:"comment,omitempty"`
	Evidence       string `json:"evidence,omitempty"`
}

// Decision is one graded verdict with its confidence.
type Decision struct {
	Kind       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Verdict    Verdict `json:"verdict"`
}

// Event is one element of the decision stream.
type Event struct {
	Type         string    `json:"type"`
	RubricItemID string    `json:"rubric_item_id,omitempty"`
	Decision     *Decision `json:"decision,omitempty"`
	Progress     float64   `json:"progress,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Feedback is the disagreement report posted when the grader rejects a
// suggestion. Field names follow the service's own casing.
type Feedback struct {
	RubricItemID      string `json:"rubricItemId"`
	RubricQuestion    string `json:"rubricQuestion"`
	StudentAssignment string `json:"studentAssignment"`
	OriginalDecision  string `json:"originalDecision"`
	UserFeedback      string `json:"userFeedback"`
}

// OutboundItems converts extracted items to the wire shape in canonical
// order. Group containers are skipped; their children carry the points and
// are what the service rules on.
func OutboundItems(items []rubric.Item) []OutboundItem {
	sorted := make([]rubric.Item, len(items))
	copy(sorted, items)
	rubric.SortItems(sorted)

	out := make([]OutboundItem, 0, len(sorted))
	for _, it := range sorted {
		if it.Kind == rubric.KindCheckboxGroup {
			continue
		}
		oi := OutboundItem{
			ID:          it.ID,
			Description: it.Description,
			Points:      it.Points,
			Type:        string(it.Kind),
		}
		if len(it.Options) > 0 {
			oi.Options = make(map[string]string, len(it.Options))
			for _, opt := range it.Options {
				oi.Options[opt.Letter] = opt.Description
			}
		}
		out = append(out, oi)
	}
	return out
}
