package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetpulse/fleetpulse/core"
	"github.com/fleetpulse/fleetpulse/transport"
)

// DeployEnv enumerates the deployment environments the registrar can
// detect. Detection is mutually exclusive; the first match wins.
type DeployEnv string

const (
	// EnvServerless is a managed container-execution environment,
	// indicated by the K_SERVICE variable the runtime injects.
	EnvServerless DeployEnv = "serverless"
	// EnvLoopback is a local development setup where the configured
	// platform address itself targets localhost.
	EnvLoopback DeployEnv = "loopback"
	// EnvPublic is everything else: the callback URL is synthesized from
	// the publicly visible address of this process.
	EnvPublic DeployEnv = "public"
)

// Default lookup endpoints; overridable in tests.
const (
	defaultMetadataURL   = "http://metadata.google.internal/computeMetadata/v1/project/numeric-project-id"
	defaultIPResolverURL = "https://api.ipify.org"
)

// DetectEnv determines the deployment environment for callback URL
// synthesis.
func DetectEnv(baseURL string) DeployEnv {
	if os.Getenv("K_SERVICE") != "" {
		return EnvServerless
	}
	if u, err := url.Parse(baseURL); err == nil {
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return EnvLoopback
		}
	}
	return EnvPublic
}

// Registrar determines this process's externally reachable callback URL
// and registers it with the platform under a random per-registration
// secret. The whole path is best-effort: every failure is caught and
// logged, never propagated to the constructor caller.
type Registrar struct {
	cfg    *core.Config
	sender *transport.Sender
	logger core.Logger

	// Lookup plumbing, swapped out in tests
	httpClient    *http.Client
	metadataURL   string
	ipResolverURL string
}

// NewRegistrar creates a registrar over the shared outbound sender
func NewRegistrar(cfg *core.Config, sender *transport.Sender, logger core.Logger) *Registrar {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registrar{
		cfg:           cfg,
		sender:        sender,
		logger:        logger,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		metadataURL:   defaultMetadataURL,
		ipResolverURL: defaultIPResolverURL,
	}
}

// Register performs one auto-registration attempt. It never returns an
// error; failures are logged as auto-configuration failures and the agent
// continues without a registered callback.
func (r *Registrar) Register(ctx context.Context) {
	env := DetectEnv(r.cfg.BaseURL)

	callbackURL, err := r.callbackURL(ctx, env)
	if err != nil {
		r.logger.Error("Webhook auto-configuration failed", map[string]interface{}{
			"environment": string(env),
			"error":       err.Error(),
		})
		return
	}

	secret := uuid.NewString()
	outcome := r.sender.Send(ctx, http.MethodPost, "/api/v1/settings/webhook", map[string]interface{}{
		"url":      callbackURL,
		"secret":   secret,
		"reporter": true,
	})
	if !outcome.Success {
		r.logger.Error("Webhook registration rejected by platform", map[string]interface{}{
			"url":   callbackURL,
			"error": fmt.Sprint(outcome.Err),
		})
		return
	}

	r.logger.Info("Webhook registered", map[string]interface{}{
		"environment": string(env),
		"url":         callbackURL,
	})
}

// callbackURL synthesizes the externally reachable callback URL for the
// detected environment.
func (r *Registrar) callbackURL(ctx context.Context, env DeployEnv) (string, error) {
	switch env {
	case EnvServerless:
		return r.serverlessURL(ctx)
	case EnvLoopback:
		return fmt.Sprintf("http://localhost:%d%s", r.cfg.WebhookPort, r.cfg.WebhookPath), nil
	default:
		return r.publicURL(ctx)
	}
}

// serverlessURL builds the managed-runtime service URL from the service
// name, the numeric project id reported by the metadata service, and the
// deployment region. A metadata failure is fatal to this attempt; there is
// no retry.
func (r *Registrar) serverlessURL(ctx context.Context) (string, error) {
	service := os.Getenv("K_SERVICE")

	region := os.Getenv("FLEETPULSE_REGION")
	if region == "" {
		region = os.Getenv("GOOGLE_CLOUD_REGION")
	}
	if region == "" {
		region = "us-central1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.metadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata service returned status %d", resp.StatusCode)
	}

	project, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("reading metadata response: %w", err)
	}

	return fmt.Sprintf("https://%s-%s.%s.run.app%s",
		service, strings.TrimSpace(string(project)), region, r.cfg.WebhookPath), nil
}

// publicURL asks a public IP-resolution service for this process's address
func (r *Registrar) publicURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.ipResolverURL, nil)
	if err != nil {
		return "", fmt.Errorf("ip resolver request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip resolver unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip resolver returned status %d", resp.StatusCode)
	}

	ip, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("reading ip resolver response: %w", err)
	}

	return fmt.Sprintf("http://%s:%d%s",
		strings.TrimSpace(string(ip)), r.cfg.WebhookPort, r.cfg.WebhookPath), nil
}
