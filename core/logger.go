package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProductionLogger provides structured logging for the agent.
//
// Logging behavior:
//   - JSON format in container environments (log aggregation friendly)
//   - Text format for local development
//   - Error logs are rate limited to prevent flooding during persistent
//     transport failures
//   - Thread-safe
type ProductionLogger struct {
	level  string
	debug  bool
	name   string
	format string
	output io.Writer
	mu     sync.Mutex

	// Rate limiting for error logs
	errorLimiter *logRateLimiter
}

// NewProductionLogger creates a logger for the named component.
// Configuration priority:
//  1. Explicit debug flag (highest)
//  2. Environment variables (FLEETPULSE_LOG_LEVEL, FLEETPULSE_LOG_FORMAT)
//  3. Auto-detection (container environment)
//  4. Defaults (lowest)
func NewProductionLogger(name string, debug bool) *ProductionLogger {
	level := os.Getenv("FLEETPULSE_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	if debug {
		level = "DEBUG"
	}

	// JSON in Kubernetes or Cloud Run, text locally
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || os.Getenv("K_SERVICE") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("FLEETPULSE_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &ProductionLogger{
		level:        strings.ToUpper(level),
		debug:        debug || strings.EqualFold(level, "DEBUG"),
		name:         name,
		format:       format,
		output:       os.Stdout,
		errorLimiter: newLogRateLimiter(time.Second),
	}
}

// Info logs informational messages
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages with rate limiting
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages (only when debug mode is enabled)
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if l.format == "json" {
		entry := map[string]interface{}{
			"time":      now,
			"level":     level,
			"component": l.name,
			"msg":       msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	// Text format with deterministic field ordering
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s: %s", now, level, l.name, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	fmt.Fprintln(l.output, sb.String())
}

// SetOutput redirects log output, primarily for tests
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// logRateLimiter allows at most one event per interval
type logRateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func newLogRateLimiter(interval time.Duration) *logRateLimiter {
	return &logRateLimiter{interval: interval}
}

func (r *logRateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}
