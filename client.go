package fleetpulse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fleetpulse/fleetpulse/core"
	"github.com/fleetpulse/fleetpulse/policy"
	"github.com/fleetpulse/fleetpulse/report"
	"github.com/fleetpulse/fleetpulse/telemetry"
	"github.com/fleetpulse/fleetpulse/transport"
	"github.com/fleetpulse/fleetpulse/webhook"
)

// Client is the reporting agent. It wires the collector, the retrying
// transport, the policy state, and the scheduler together, plus the
// optional inbound webhook pieces.
type Client struct {
	cfg      *core.Config
	logger   core.Logger
	bus      *core.Bus
	workload core.Workload
	topology core.Topology

	httpClient *transport.Client
	sender     *transport.Sender
	policy     *policy.State
	collector  *report.Collector
	scheduler  *report.Scheduler

	server    *webhook.Server
	relay     *webhook.Relay
	registrar *webhook.Registrar

	mu      sync.Mutex
	started bool
}

// New creates an agent for the given host workload. topology may be nil in
// non-sharded deployments. Construction fails only on configuration
// errors: a missing workload id or token is fatal.
func New(workload core.Workload, topology core.Topology, opts ...core.Option) (*Client, error) {
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	logger := core.NewProductionLogger("fleetpulse", cfg.Debug)
	tel := telemetry.New("fleetpulse")

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		bus:      core.NewBus(logger),
		workload: workload,
		topology: topology,
	}

	c.httpClient = transport.NewClient(cfg, logger)
	c.sender = transport.NewSender(c.httpClient, cfg, logger, tel)
	c.sender.SetRefresher(c)

	c.policy = policy.NewState(cfg.Interval, logger)
	c.collector = report.NewCollector(cfg.WorkloadID, workload, topology, logger)
	c.scheduler = report.NewScheduler(c.policy, c.scheduledReport, c.scheduledHeartbeat, logger)

	if cfg.WebhookEnabled {
		c.server = webhook.NewServer(cfg, c.bus, logger)
	}
	if cfg.RedisURL != "" {
		relay, err := webhook.NewRelay(cfg.RedisURL, c.bus, logger)
		if err != nil {
			// The relay is best-effort cross-worker plumbing; the agent
			// still works without it.
			logger.Error("Vote relay unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			c.relay = relay
		}
	}
	if cfg.AutoRegister {
		c.registrar = webhook.NewRegistrar(cfg, c.sender, logger)
		go c.registrar.Register(context.Background())
	}

	return c, nil
}

// Start begins operating. The inbound pieces start on every worker that
// has them configured; the reporting schedule starts only on the leader,
// and only once the host workload has signaled readiness.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if c.server != nil {
		if err := c.server.Start(); err != nil {
			return err
		}
		if c.relay != nil {
			// The listener-owning process forwards each accepted vote to
			// sibling workers.
			c.bus.Subscribe(core.EventVote, func(payload json.RawMessage) {
				_ = c.relay.Forward(context.Background(), payload)
			})
		}
	} else if c.relay != nil {
		// Siblings without a listener receive forwarded votes instead.
		if err := c.relay.Listen(ctx); err != nil {
			c.logger.Error("Vote relay listen failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if !report.IsLeader(c.topology, c.logger) {
		return nil
	}

	if c.workload == nil || !c.workload.Ready() {
		return core.NewAgentError("client.Start", "client", core.ErrWorkloadNotReady)
	}
	return c.scheduler.Start(ctx)
}

// Stop cancels the reporting timers and shuts the inbound pieces down.
// Safe to call when never started or already stopped.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()

	c.scheduler.Stop()

	var firstErr error
	if c.server != nil {
		if err := c.server.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.relay != nil {
		if err := c.relay.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PostStats captures a fresh metrics snapshot and posts it to the
// platform. The returned outcome carries the classified result of the
// send; the only error returned directly is the not-ready condition, which
// is never retried. Policy synchronization from the response is fully
// applied before PostStats returns, so the caller never observes a stale
// interval afterwards.
func (c *Client) PostStats(ctx context.Context) (transport.Outcome, error) {
	snapshot, err := c.collector.Snapshot(ctx)
	if err != nil {
		return transport.Outcome{}, err
	}

	outcome := c.sender.Send(ctx, http.MethodPost, "/api/v1/bots/stats", snapshot)
	if outcome.Success {
		c.policy.Apply(outcome.Body)
	}
	return outcome, nil
}

// Heartbeat posts a liveness signal. Business tier only; the platform
// rejects it otherwise.
func (c *Client) Heartbeat(ctx context.Context) transport.Outcome {
	return c.sender.Send(ctx, http.MethodPost, "/api/v1/heartbeat", nil)
}

// Verify fetches the current tier and limits and synchronizes policy state
// from the response.
func (c *Client) Verify(ctx context.Context) (json.RawMessage, error) {
	return c.query(ctx, "/api/v1/verify")
}

// Bot fetches the platform record for a workload
func (c *Client) Bot(ctx context.Context, id string) (json.RawMessage, error) {
	return c.query(ctx, "/api/v1/bots/"+url.PathEscape(id))
}

// Votes fetches recent votes for a workload. limit <= 0 means the platform
// default.
func (c *Client) Votes(ctx context.Context, id string, limit int) (json.RawMessage, error) {
	path := "/api/v1/bots/" + url.PathEscape(id) + "/votes"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	return c.query(ctx, path)
}

// Analytics fetches aggregated analytics for a workload
func (c *Client) Analytics(ctx context.Context, id string) (json.RawMessage, error) {
	return c.query(ctx, "/api/v1/bots/"+url.PathEscape(id)+"/analytics")
}

// StatsHistory fetches historical stats for a workload over the given
// period (e.g. "7d").
func (c *Client) StatsHistory(ctx context.Context, id, period string) (json.RawMessage, error) {
	path := "/api/v1/bots/" + url.PathEscape(id) + "/stats/history"
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}
	return c.query(ctx, path)
}

// Usage fetches the account's current API usage
func (c *Client) Usage(ctx context.Context) (json.RawMessage, error) {
	return c.query(ctx, "/api/v1/usage")
}

// query performs a read-only GET. Responses feed policy synchronization
// opportunistically: any of them may carry tier information.
func (c *Client) query(ctx context.Context, path string) (json.RawMessage, error) {
	outcome := c.sender.Send(ctx, http.MethodGet, path, nil)
	if !outcome.Success {
		return nil, outcome.Err
	}
	c.policy.Apply(outcome.Body)
	return outcome.Body, nil
}

// RefreshPolicy re-verifies the current policy against the platform with a
// single attempt. The transport invokes it after a 429/403; it must not go
// through the retrying sender itself or a rejected verification would
// recurse.
func (c *Client) RefreshPolicy(ctx context.Context) {
	status, body, err := c.httpClient.Get(ctx, "/api/v1/verify")
	if err != nil || status < 200 || status >= 300 {
		c.logger.Warn("Policy re-verification failed", map[string]interface{}{
			"status": status,
			"error":  fmt.Sprint(err),
		})
		return
	}
	c.policy.Apply(body)
}

// OnVote registers a handler for accepted vote callbacks
func (c *Client) OnVote(h func(payload json.RawMessage)) {
	c.bus.Subscribe(core.EventVote, core.Handler(h))
}

// IngestMessage accepts an in-process message from a sibling worker and
// republishes vote payloads locally. Returns false for unrecognized
// message types.
func (c *Client) IngestMessage(msg webhook.Message) bool {
	return webhook.Ingest(c.bus, msg)
}

// Tier returns the currently known service tier, empty until the platform
// first declares one.
func (c *Client) Tier() string {
	return c.policy.Tier()
}

// Interval returns the currently permitted reporting interval
func (c *Client) Interval() time.Duration {
	return c.policy.Interval()
}

// Failures returns the number of consecutive sends that exhausted their
// retry budget since the last success.
func (c *Client) Failures() int64 {
	return c.sender.Failures()
}

// scheduledReport is the stats timer callback
func (c *Client) scheduledReport(ctx context.Context) {
	if _, err := c.PostStats(ctx); err != nil {
		c.logger.Warn("Scheduled report skipped", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// scheduledHeartbeat is the heartbeat timer callback
func (c *Client) scheduledHeartbeat(ctx context.Context) {
	if outcome := c.Heartbeat(ctx); !outcome.Success {
		c.logger.Warn("Heartbeat failed", map[string]interface{}{
			"error": fmt.Sprint(outcome.Err),
		})
	}
}
