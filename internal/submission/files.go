// Package submission downloads and caches a submission's source files.
// The cache key buckets submission ids so sibling questions of one
// multi-part assignment reuse a single expensive download.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"rubricsync/internal/authclient"
	"rubricsync/internal/config"
	"rubricsync/internal/logging"
)

// Cache fetches file bundles through the authenticated client and keeps
// them for the rest of the grading run. Mutated only by the pipeline's
// thread of control.
type Cache struct {
	client *authclient.Client
	path   string
	bucket int64

	mu      sync.Mutex
	entries map[string]map[string]string
}

// NewCache builds a file cache over the given client.
func NewCache(client *authclient.Client, cfg *config.Config) *Cache {
	return &Cache{
		client:  client,
		path:    cfg.Host.FilesPath,
		bucket:  cfg.Pipeline.FileBucketSize,
		entries: make(map[string]map[string]string),
	}
}

// Key is the normalized cache key for a submission: the course id plus the
// submission id rounded down to the bucket size.
func Key(courseID string, submissionID, bucket int64) string {
	return fmt.Sprintf("%s:%d", courseID, (submissionID/bucket)*bucket)
}

// Files returns the submission's source files, downloading them at most
// once per (course, submission bucket) pair.
func (c *Cache) Files(ctx context.Context, courseID string, submissionID int64) (map[string]string, error) {
	key := Key(courseID, submissionID, c.bucket)

	c.mu.Lock()
	if files, ok := c.entries[key]; ok {
		c.mu.Unlock()
		logging.PipelineDebug("file cache hit for %s", key)
		return files, nil
	}
	c.mu.Unlock()

	resp, err := c.client.Get(ctx, fmt.Sprintf(c.path, courseID, submissionID))
	if err != nil {
		return nil, fmt.Errorf("download files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download files: status %d", resp.StatusCode)
	}

	var files map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode file bundle: %w", err)
	}

	c.mu.Lock()
	c.entries[key] = files
	c.mu.Unlock()
	logging.Pipeline("downloaded %d files for %s", len(files), key)
	return files, nil
}

// Clear drops everything; called at the start of each grading run only
// when a new submission identity is being graded.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[string]string)
}

// Len reports the number of cached bundles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
