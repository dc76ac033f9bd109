package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("https://host.test/courses/cs101/assignments/hw3/submissions/421337/grade")
	require.NoError(t, err)
	assert.Equal(t, "cs101", id.CourseID)
	assert.Equal(t, "hw3", id.AssignmentID)
	assert.Equal(t, int64(421337), id.SubmissionID)
}

func TestParseIdentityQuestionPath(t *testing.T) {
	id, err := ParseIdentity("https://host.test/courses/7/questions/12/submissions/99/grade?late=1")
	require.NoError(t, err)
	assert.Equal(t, "7", id.CourseID)
	assert.Equal(t, "12", id.AssignmentID)
	assert.Equal(t, int64(99), id.SubmissionID)
}

func TestParseIdentityRejectsIncompletePaths(t *testing.T) {
	for _, tabURL := range []string{
		"https://host.test/",
		"https://host.test/courses/cs101",
		"https://host.test/courses/cs101/assignments/hw3",
		"https://host.test/courses/cs101/assignments/hw3/submissions/not-a-number/grade",
	} {
		_, err := ParseIdentity(tabURL)
		assert.Error(t, err, tabURL)
	}
}
