package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"rubricsync/internal/pipeline"
)

// ParseIdentity reads the course, assignment and submission ids out of a
// grading tab's URL. Both direct assignment paths and per-question paths
// are accepted:
//
//	/courses/{course}/assignments/{assignment}/submissions/{submission}/grade
//	/courses/{course}/questions/{question}/submissions/{submission}/grade
func ParseIdentity(tabURL string) (pipeline.Identity, error) {
	u, err := url.Parse(tabURL)
	if err != nil {
		return pipeline.Identity{}, fmt.Errorf("parse url: %w", err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	next := func(name string) (string, bool) {
		for i := 0; i+1 < len(segments); i++ {
			if segments[i] == name {
				return segments[i+1], true
			}
		}
		return "", false
	}

	var id pipeline.Identity
	course, ok := next("courses")
	if !ok {
		return pipeline.Identity{}, fmt.Errorf("no course id in %s", u.Path)
	}
	id.CourseID = course

	if assignment, ok := next("assignments"); ok {
		id.AssignmentID = assignment
	} else if question, ok := next("questions"); ok {
		id.AssignmentID = question
	} else {
		return pipeline.Identity{}, fmt.Errorf("no assignment id in %s", u.Path)
	}

	raw, ok := next("submissions")
	if !ok {
		return pipeline.Identity{}, fmt.Errorf("no submission id in %s", u.Path)
	}
	submission, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return pipeline.Identity{}, fmt.Errorf("submission id %q is not numeric", raw)
	}
	id.SubmissionID = submission

	return id, nil
}
