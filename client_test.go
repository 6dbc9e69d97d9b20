package fleetpulse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/core"
	"github.com/fleetpulse/fleetpulse/webhook"
)

type stubWorkload struct {
	ready  bool
	counts core.Counts
}

func (s *stubWorkload) Ready() bool                 { return s.ready }
func (s *stubWorkload) Counts() (core.Counts, error) { return s.counts, nil }

type stubTopology struct {
	workers int
	index   int
	sharded bool
}

func (s *stubTopology) WorkerCount() int          { return s.workers }
func (s *stubTopology) LocalIndex() (int, bool)   { return s.index, s.sharded }
func (s *stubTopology) QueryWorker(ctx context.Context, index int) (core.Counts, error) {
	return core.Counts{}, nil
}

func baseOptions(baseURL string) []core.Option {
	return []core.Option{
		core.WithWorkloadID("1234"),
		core.WithToken("secret"),
		core.WithBaseURL(baseURL),
		core.WithRetry(1, time.Millisecond),
	}
}

func TestNewValidatesConfiguration(t *testing.T) {
	_, err := New(&stubWorkload{}, nil, core.WithToken("secret"))
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))

	_, err = New(&stubWorkload{}, nil, core.WithWorkloadID("1234"))
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}

func TestPostStatsNotReady(t *testing.T) {
	client, err := New(&stubWorkload{ready: false}, nil, baseOptions("http://localhost:0")...)
	require.NoError(t, err)

	_, err = client.PostStats(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrWorkloadNotReady))
}

func TestPostStatsAppliesPolicyBeforeReturn(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/bots/stats" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"tier":{"name":"pro","updateIntervalMinutes":30}}`))
	}))
	defer server.Close()

	workload := &stubWorkload{ready: true, counts: core.Counts{Partitions: 5, Members: 16}}
	client, err := New(workload, nil, baseOptions(server.URL)...)
	require.NoError(t, err)

	outcome, err := client.PostStats(context.Background())
	require.NoError(t, err)
	require.True(t, outcome.Success)

	// The response's policy is fully applied before PostStats returns
	assert.Equal(t, "pro", client.Tier())
	assert.Equal(t, 30*time.Minute, client.Interval())

	require.NotNil(t, received)
	assert.Equal(t, "1234", received["id"])
	assert.EqualValues(t, 5, received["partitionCount"])
	assert.EqualValues(t, 16, received["memberCount"])
	assert.EqualValues(t, 1, received["workerCount"])
	assert.NotEmpty(t, received["timestamp"])
}

func TestStartLeaderReportsImmediately(t *testing.T) {
	var statsCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/bots/stats" {
			atomic.AddInt32(&statsCalls, 1)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	workload := &stubWorkload{ready: true, counts: core.Counts{Partitions: 1, Members: 1}}
	client, err := New(workload, nil, baseOptions(server.URL)...)
	require.NoError(t, err)
	defer client.Stop(context.Background())

	require.NoError(t, client.Start(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&statsCalls))
}

func TestStartFollowerSuppressesReporting(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	workload := &stubWorkload{ready: true}
	topo := &stubTopology{workers: 3, index: 2, sharded: true}
	client, err := New(workload, topo, baseOptions(server.URL)...)
	require.NoError(t, err)
	defer client.Stop(context.Background())

	require.NoError(t, client.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls), "followers must not issue any outbound report")
}

func TestStartNotReady(t *testing.T) {
	client, err := New(&stubWorkload{ready: false}, nil, baseOptions("http://localhost:0")...)
	require.NoError(t, err)
	defer client.Stop(context.Background())

	err = client.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrWorkloadNotReady))
}

func TestQueriesFeedPolicyOpportunistically(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/verify":
			_, _ = w.Write([]byte(`{"tier":"business","updateIntervalMinutes":5}`))
		case "/api/v1/bots/42/votes":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := New(&stubWorkload{ready: true}, nil, baseOptions(server.URL)...)
	require.NoError(t, err)

	body, err := client.Verify(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, body)
	assert.Equal(t, "business", client.Tier())
	assert.Equal(t, 5*time.Minute, client.Interval())

	_, err = client.Votes(context.Background(), "42", 5)
	require.NoError(t, err)
}

func TestRateLimitTriggersReVerification(t *testing.T) {
	var verifyCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/bots/stats":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/api/v1/verify":
			atomic.AddInt32(&verifyCalls, 1)
			_, _ = w.Write([]byte(`{"tier":"free","updateIntervalMinutes":60}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	workload := &stubWorkload{ready: true, counts: core.Counts{Partitions: 1, Members: 1}}
	client, err := New(workload, nil, baseOptions(server.URL)...)
	require.NoError(t, err)

	outcome, err := client.PostStats(context.Background())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.True(t, errors.Is(outcome.Err, core.ErrRateLimited))

	// The rejection re-synced policy before the call returned
	assert.EqualValues(t, 1, atomic.LoadInt32(&verifyCalls))
	assert.Equal(t, "free", client.Tier())
	assert.Equal(t, time.Hour, client.Interval())
}

func TestHeartbeatEndpoint(t *testing.T) {
	var path, method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		method = r.Method
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := New(&stubWorkload{ready: true}, nil, baseOptions(server.URL)...)
	require.NoError(t, err)

	outcome := client.Heartbeat(context.Background())
	assert.True(t, outcome.Success)
	assert.Equal(t, "/api/v1/heartbeat", path)
	assert.Equal(t, http.MethodPost, method)
}

func TestIngestMessageRepublishesVotes(t *testing.T) {
	client, err := New(&stubWorkload{ready: true}, nil, baseOptions("http://localhost:0")...)
	require.NoError(t, err)

	var votes []string
	client.OnVote(func(payload json.RawMessage) {
		votes = append(votes, string(payload))
	})

	ok := client.IngestMessage(webhook.Message{Type: webhook.MessageVote, Data: json.RawMessage(`{"user":"X"}`)})
	assert.True(t, ok)
	require.Len(t, votes, 1)
	assert.JSONEq(t, `{"user":"X"}`, votes[0])

	ok = client.IngestMessage(webhook.Message{Type: "other", Data: nil})
	assert.False(t, ok)
	assert.Len(t, votes, 1)
}

func TestFailureCounterVisibleOnClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	workload := &stubWorkload{ready: true}
	client, err := New(workload, nil, baseOptions(server.URL)...)
	require.NoError(t, err)

	_, err = client.PostStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, client.Failures())
}
