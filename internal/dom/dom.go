// Package dom abstracts the rendered tree of the grading tab. The live
// implementation is backed by go-rod against a Chrome target; tests use the
// in-memory Fake tree. Node handles are non-owning lookups into a tree the
// host page can replace at any time, so callers re-validate with Attached
// before reusing a handle they did not just obtain.
package dom

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a selector matches nothing.
var ErrNotFound = errors.New("dom: no element matches selector")

// ErrDetached is returned when an operation is attempted on a node that is
// no longer part of the rendered tree.
var ErrDetached = errors.New("dom: node detached from tree")

// Node is a handle to one element in the rendered tree.
type Node interface {
	// Query returns the first descendant matching selector, in document order.
	Query(ctx context.Context, selector string) (Node, error)

	// QueryAll returns all descendants matching selector, in document order.
	QueryAll(ctx context.Context, selector string) ([]Node, error)

	// Attribute returns the value of the named attribute and whether it is set.
	Attribute(ctx context.Context, name string) (string, bool, error)

	// Text returns the visible text content of the node.
	Text(ctx context.Context) (string, error)

	// HTML returns the inner HTML of the node.
	HTML(ctx context.Context) (string, error)

	// Click dispatches a click on the node.
	Click(ctx context.Context) error

	// Checked reports the checked state of a checkbox/radio control.
	Checked(ctx context.Context) (bool, error)

	// SetChecked sets the checked state and fires a change event.
	SetChecked(ctx context.Context, checked bool) error

	// SetValue sets an input's value and fires input/change events.
	SetValue(ctx context.Context, value string) error

	// Attached reports whether the node is still connected to the tree.
	Attached(ctx context.Context) (bool, error)

	// Visible reports whether the node is rendered visibly.
	Visible(ctx context.Context) (bool, error)

	// InsertAfter parses html and inserts the result as the node's next
	// sibling, returning a handle to the inserted element.
	InsertAfter(ctx context.Context, html string) (Node, error)

	// AppendHTML parses html and appends the result as the node's last
	// child, returning a handle to the appended element.
	AppendHTML(ctx context.Context, html string) (Node, error)

	// Remove detaches the node from the tree.
	Remove(ctx context.Context) error
}

// Page is the root of one rendered tree.
type Page interface {
	// Query returns the first element matching selector, in document order.
	Query(ctx context.Context, selector string) (Node, error)

	// QueryAll returns all elements matching selector, in document order.
	QueryAll(ctx context.Context, selector string) ([]Node, error)

	// Has reports whether any element matches selector.
	Has(ctx context.Context, selector string) (bool, error)

	// Frame returns the tree embedded in the first frame matching selector.
	// The second return is false when no such frame exists.
	Frame(ctx context.Context, selector string) (Page, bool, error)

	// Body returns the document body.
	Body(ctx context.Context) (Node, error)

	// ScrollTop scrolls the page back to its top.
	ScrollTop(ctx context.Context) error

	// URL returns the page's current location.
	URL() string
}
