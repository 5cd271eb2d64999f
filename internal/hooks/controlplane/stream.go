package controlplane

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/statusbar/internal/model"
)

const maxEventSize = 1 << 20

// WatchJob opens the job's event stream. The stream is newline-delimited
// JSON, one model.JobStreamEvent per line. The returned channel is closed
// when the server ends the stream, the read fails, or ctx is cancelled.
func (c *Client) WatchJob(ctx context.Context, jobID string) (<-chan model.JobStreamEvent, error) {
	logger := log.FromContext(ctx).WithValues("jobID", jobID)
	endpoint := jobStreamURL(c.baseURL, jobID)

	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader("Accept", "application/x-ndjson").
		SetDoNotParseResponse(true).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open job stream: %w", err)
	}

	body := resp.Body
	if !resp.IsSuccess() {
		var msg []byte
		if body != nil {
			buf := new(bytes.Buffer)
			_, _ = buf.ReadFrom(body)
			_ = body.Close()
			msg = buf.Bytes()
		}
		return nil, &StatusError{Op: "job stream", StatusCode: resp.StatusCode(), Body: string(msg)}
	}
	if body == nil {
		return nil, fmt.Errorf("job stream %s returned no body", jobID)
	}

	ch := make(chan model.JobStreamEvent)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var evt model.JobStreamEvent
			if err := json.Unmarshal(line, &evt); err != nil {
				logger.Error(err, "Skipping malformed job stream event")
				continue
			}

			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logger.Error(err, "Job stream read failed")
		}
	}()

	logger.V(1).Info("Job stream opened", "endpoint", endpoint)
	return ch, nil
}
