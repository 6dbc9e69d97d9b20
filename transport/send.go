package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fleetpulse/fleetpulse/core"
)

// Outcome is the result of one Send call. It exists only for the duration
// of the operation and is never persisted.
type Outcome struct {
	Success  bool
	Status   int
	Body     []byte
	Err      error
	Attempts int
}

// Sender drives the retry loop over a transport client. One Sender is
// shared by all outbound operations so the consecutive-failure counter
// reflects the whole agent.
type Sender struct {
	client    *Client
	limit     int
	delay     time.Duration
	refresher core.PolicyRefresher
	logger    core.Logger
	telemetry core.Telemetry

	// consecutive exhausted sends since the last success
	failures int64
}

// NewSender creates a sender with the configured retry budget
func NewSender(client *Client, cfg *core.Config, logger core.Logger, telemetry core.Telemetry) *Sender {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Sender{
		client:    client,
		limit:     cfg.RetryLimit,
		delay:     cfg.RetryDelay,
		logger:    logger,
		telemetry: telemetry,
	}
}

// SetRefresher wires the policy re-verification hook. Wired after
// construction because the refresher itself sends through this sender.
func (s *Sender) SetRefresher(r core.PolicyRefresher) {
	s.refresher = r
}

// Failures returns the number of consecutive sends that exhausted their
// retry budget since the last success.
func (s *Sender) Failures() int64 {
	return atomic.LoadInt64(&s.failures)
}

// Send delivers one payload with bounded retries.
//
// Classification by response status:
//   - 2xx: success; the consecutive-failure counter resets to zero and the
//     response body is propagated upward for policy synchronization.
//   - 429/403: policy rejection; exactly one attempt, no inline retry.
//     Retrying immediately would certainly fail again, so the sender
//     triggers an out-of-band policy re-verification and returns.
//   - anything else (network error, 5xx, unexpected status): transient;
//     retried after the fixed configured delay until the attempt limit is
//     consumed, then the failure counter is incremented by exactly one.
func (s *Sender) Send(ctx context.Context, method, path string, body interface{}) Outcome {
	payload, err := marshalPayload(body)
	if err != nil {
		return Outcome{Err: err}
	}

	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= s.limit; attempt++ {
		status, respBody, err := s.client.do(ctx, method, path, payload)
		lastStatus = status

		if err == nil && status >= 200 && status < 300 {
			atomic.StoreInt64(&s.failures, 0)
			s.telemetry.RecordMetric("transport.send", 1, map[string]string{"path": path, "result": "success"})
			return Outcome{Success: true, Status: status, Body: respBody, Attempts: attempt}
		}

		if status == http.StatusTooManyRequests || status == http.StatusForbidden {
			kind := core.ErrRateLimited
			if status == http.StatusForbidden {
				kind = core.ErrForbidden
			}
			s.logger.Warn("Platform rejected request, re-verifying policy", map[string]interface{}{
				"path":   path,
				"status": status,
			})
			s.telemetry.RecordMetric("transport.send", 1, map[string]string{"path": path, "result": "rejected"})
			if s.refresher != nil {
				s.refresher.RefreshPolicy(ctx)
			}
			return Outcome{
				Status:   status,
				Body:     respBody,
				Err:      core.NewAgentError("transport.Send", "transport", kind),
				Attempts: attempt,
			}
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("%w: unexpected status %d", core.ErrRequestFailed, status)
		}

		s.logger.Debug("Send attempt failed", map[string]interface{}{
			"path":    path,
			"attempt": attempt,
			"status":  status,
			"error":   lastErr.Error(),
		})

		if attempt == s.limit {
			break
		}
		if err := s.sleep(ctx); err != nil {
			return Outcome{Status: lastStatus, Err: err, Attempts: attempt}
		}
	}

	atomic.AddInt64(&s.failures, 1)
	s.telemetry.RecordMetric("transport.send", 1, map[string]string{"path": path, "result": "exhausted"})
	s.logger.Error("Send exhausted retry budget", map[string]interface{}{
		"path":     path,
		"attempts": s.limit,
		"failures": s.Failures(),
		"error":    lastErr.Error(),
	})
	return Outcome{
		Status:   lastStatus,
		Err:      fmt.Errorf("after %d attempts: %v: %w", s.limit, lastErr, core.ErrMaxRetriesExceeded),
		Attempts: s.limit,
	}
}

// sleep waits the configured retry delay with context cancellation
func (s *Sender) sleep(ctx context.Context) error {
	if s.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
