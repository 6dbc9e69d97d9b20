package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/core"
	"github.com/fleetpulse/fleetpulse/transport"
)

func registrarConfig(baseURL string) *core.Config {
	cfg := core.DefaultConfig()
	cfg.WorkloadID = "1234"
	cfg.Token = "secret"
	cfg.BaseURL = baseURL
	cfg.RetryLimit = 1
	cfg.RetryDelay = time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	cfg.WebhookPort = 8080
	return cfg
}

func newRegistrar(cfg *core.Config) *Registrar {
	client := transport.NewClient(cfg, nil)
	sender := transport.NewSender(client, cfg, nil, nil)
	return NewRegistrar(cfg, sender, nil)
}

func TestDetectEnvServerless(t *testing.T) {
	t.Setenv("K_SERVICE", "vote-listener")
	assert.Equal(t, EnvServerless, DetectEnv("https://api.fleetpulse.io"))
	// Serverless wins even with a loopback base address
	assert.Equal(t, EnvServerless, DetectEnv("http://localhost:3000"))
}

func TestDetectEnvLoopback(t *testing.T) {
	t.Setenv("K_SERVICE", "")
	assert.Equal(t, EnvLoopback, DetectEnv("http://localhost:3000"))
	assert.Equal(t, EnvLoopback, DetectEnv("http://127.0.0.1:3000/api"))
}

func TestDetectEnvPublic(t *testing.T) {
	t.Setenv("K_SERVICE", "")
	assert.Equal(t, EnvPublic, DetectEnv("https://api.fleetpulse.io"))
}

func TestLoopbackCallbackURL(t *testing.T) {
	cfg := registrarConfig("http://localhost:3000")
	cfg.WebhookPort = 9090

	r := newRegistrar(cfg)
	url, err := r.callbackURL(context.Background(), EnvLoopback)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090/webhook", url)
}

func TestServerlessCallbackURL(t *testing.T) {
	t.Setenv("K_SERVICE", "vote-listener")
	t.Setenv("FLEETPULSE_REGION", "europe-west1")

	metadata := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Metadata-Flavor") != "Google" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("123456789\n"))
	}))
	defer metadata.Close()

	r := newRegistrar(registrarConfig("https://api.fleetpulse.io"))
	r.metadataURL = metadata.URL

	url, err := r.callbackURL(context.Background(), EnvServerless)
	require.NoError(t, err)
	assert.Equal(t, "https://vote-listener-123456789.europe-west1.run.app/webhook", url)
}

func TestServerlessMetadataFailureIsFatalToAttempt(t *testing.T) {
	t.Setenv("K_SERVICE", "vote-listener")

	metadata := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer metadata.Close()

	r := newRegistrar(registrarConfig("https://api.fleetpulse.io"))
	r.metadataURL = metadata.URL

	_, err := r.callbackURL(context.Background(), EnvServerless)
	assert.Error(t, err)
}

func TestPublicCallbackURL(t *testing.T) {
	resolver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("203.0.113.7"))
	}))
	defer resolver.Close()

	cfg := registrarConfig("https://api.fleetpulse.io")
	cfg.WebhookPort = 8081

	r := newRegistrar(cfg)
	r.ipResolverURL = resolver.URL

	url, err := r.callbackURL(context.Background(), EnvPublic)
	require.NoError(t, err)
	assert.Equal(t, "http://203.0.113.7:8081/webhook", url)
}

func TestRegisterSubmitsURLAndSecret(t *testing.T) {
	t.Setenv("K_SERVICE", "")

	var submitted map[string]interface{}
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/settings/webhook" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer platform.Close()

	resolver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("198.51.100.3"))
	}))
	defer resolver.Close()

	r := newRegistrar(registrarConfig(platform.URL))
	r.ipResolverURL = resolver.URL

	r.Register(context.Background())

	require.NotNil(t, submitted, "registration never reached the platform")
	assert.Equal(t, "http://198.51.100.3:8080/webhook", submitted["url"])
	assert.NotEmpty(t, submitted["secret"])
	assert.Equal(t, true, submitted["reporter"])
}

func TestRegisterNeverPanicsOnFailure(t *testing.T) {
	t.Setenv("K_SERVICE", "")

	cfg := registrarConfig("https://api.fleetpulse.io")
	r := newRegistrar(cfg)
	r.ipResolverURL = "http://127.0.0.1:1"

	// Best-effort path: failures are logged, nothing propagates
	r.Register(context.Background())
}
