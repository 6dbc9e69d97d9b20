package webhook

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/fleetpulse/fleetpulse/core"
)

// relayChannel is the pub/sub channel vote payloads travel on between
// cooperating workers.
const relayChannel = "fleetpulse:votes"

// Relay forwards vote payloads between workers through Redis pub/sub. The
// process that owns the callback listener calls Forward for each accepted
// vote; sibling workers run Listen and republish received payloads to their
// local subscribers. The relay is best-effort: failures are logged, never
// fatal to the caller.
type Relay struct {
	client *redis.Client
	bus    *core.Bus
	logger core.Logger

	mu     sync.Mutex
	sub    *redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

// NewRelay connects to Redis and returns a relay. The URL uses the
// standard redis:// scheme.
func NewRelay(redisURL string, bus *core.Bus, logger core.Logger) (*Relay, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, core.NewAgentError("relay.New", "webhook", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, core.NewAgentError("relay.New", "webhook", err)
	}

	return &Relay{
		client: client,
		bus:    bus,
		logger: logger,
	}, nil
}

// Forward publishes one vote payload to sibling workers
func (r *Relay) Forward(ctx context.Context, payload json.RawMessage) error {
	msg, err := json.Marshal(Message{Type: MessageVote, Data: payload})
	if err != nil {
		return core.NewAgentError("relay.Forward", "webhook", err)
	}
	if err := r.client.Publish(ctx, relayChannel, msg).Err(); err != nil {
		r.logger.Warn("Failed to forward vote to siblings", map[string]interface{}{
			"error": err.Error(),
		})
		return core.NewAgentError("relay.Forward", "webhook", err)
	}
	return nil
}

// Listen subscribes to the relay channel and republishes vote messages to
// the local bus until Close is called. The subscription loop runs in the
// background; Listen returns once the subscription is established.
func (r *Relay) Listen(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.NewAgentError("relay.Listen", "webhook", core.ErrConnectionFailed)
	}
	if r.sub != nil {
		return core.ErrAlreadyStarted
	}

	sub := r.client.Subscribe(ctx, relayChannel)
	// Force the subscription onto the wire before returning
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return core.NewAgentError("relay.Listen", "webhook", err)
	}
	r.sub = sub

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range sub.Channel() {
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.logger.Warn("Discarding malformed relay message", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			Ingest(r.bus, m)
		}
	}()

	r.logger.Info("Vote relay listening", map[string]interface{}{
		"channel": relayChannel,
	})
	return nil
}

// Close tears down the subscription and the Redis connection
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	r.wg.Wait()
	return r.client.Close()
}
