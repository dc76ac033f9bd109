package decision

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rubricsync/internal/config"
	"rubricsync/internal/logging"
)

// Service is the client for the remote decision service.
type Service struct {
	http         *http.Client
	baseURL      string
	gradePath    string
	feedbackPath string
	apiKey       string
}

// NewService builds a service client from config.
func NewService(cfg *config.Config) *Service {
	return &Service{
		http: &http.Client{
			Timeout: config.Duration(cfg.Client.Timeout, 120*time.Second),
		},
		baseURL:      strings.TrimSuffix(cfg.Service.BaseURL, "/"),
		gradePath:    cfg.Service.GradePath,
		feedbackPath: cfg.Service.FeedbackPath,
		apiKey:       cfg.Service.APIKey,
	}
}

// Stream posts the grading payload and returns channels of decision
// events. The event channel is closed when the stream ends; a single
// error may arrive on the error channel if the request fails or a stream
// line cannot be parsed. A malformed line aborts the stream rather than
// being skipped, so a partially-garbled response never half-applies.
func (s *Service) Stream(ctx context.Context, payload *Payload) (<-chan Event, <-chan error) {
	eventChan := make(chan Event, 100)
	errorChan := make(chan error, 1)

	logging.Stream("opening decision stream: items=%d files=%d",
		len(payload.RubricItems), len(payload.SourceFiles))

	go func() {
		defer close(eventChan)
		defer close(errorChan)

		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.http.Timeout)
			defer cancel()
		}

		body, err := json.Marshal(payload)
		if err != nil {
			errorChan <- fmt.Errorf("marshal payload: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.baseURL+s.gradePath, bytes.NewReader(body))
		if err != nil {
			errorChan <- fmt.Errorf("create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		start := time.Now()
		resp, err := s.http.Do(req)
		if err != nil {
			errorChan <- fmt.Errorf("grade request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errorChan <- fmt.Errorf("grade request: status %d: %s", resp.StatusCode, msg)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		events := 0
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				break
			}

			var evt Event
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				logging.StreamError("malformed stream line, aborting: %v", err)
				errorChan <- fmt.Errorf("malformed stream line: %w", err)
				return
			}
			if evt.Type == EventError {
				errorChan <- fmt.Errorf("decision service error: %s", evt.Error)
				return
			}

			events++
			select {
			case eventChan <- evt:
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			}

			if evt.Type == EventJobComplete {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			errorChan <- fmt.Errorf("read stream: %w", err)
			return
		}
		logging.Stream("decision stream finished: events=%d in %v", events, time.Since(start))
	}()

	return eventChan, errorChan
}

// SendFeedback posts a disagreement report. Fire-and-forget from the
// grader's standpoint; failures are logged, not surfaced.
func (s *Service) SendFeedback(ctx context.Context, fb *Feedback) error {
	body, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+s.feedbackPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("feedback request: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("feedback request: status %d", resp.StatusCode)
	}
	logging.Stream("feedback sent for item %s", fb.RubricItemID)
	return nil
}
