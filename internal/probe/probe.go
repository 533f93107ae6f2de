package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
)

// Status is the ternary health classification of one probe outcome.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Outcome is the normalized result of one probe invocation for a single
// service. It is immutable once produced; the state tracker consumes it.
type Outcome struct {
	Service   string
	Kind      string
	Status    Status
	Latency   time.Duration
	Timestamp time.Time

	// Error holds the probe failure verbatim when Status is down or degraded.
	Error string

	// Metadata holds probe-specific observations, e.g. "status_code",
	// "cert_days_left", or the evaluated metric value. Keys become template
	// variables prefixed with metadata_ in rendered alerts.
	Metadata map[string]string
}

// Prober is the capability interface implemented by every probe kind.
// Check must respect ctx's deadline and must not leak connections past the
// call. Probe failures are encoded in the Outcome, never returned as errors.
type Prober interface {
	Check(ctx context.Context) *Outcome
}

// New returns the appropriate Prober for the given service spec.
// HTTP clients are built once and reused across probe calls.
func New(spec *config.ServiceSpec) (Prober, error) {
	switch spec.Kind {
	case "http":
		return &httpProber{spec: spec, client: buildHTTPClient(spec)}, nil
	case "tcp":
		return &tcpProber{spec: spec}, nil
	case "metrics":
		cond, err := config.ParseCondition(spec.Condition)
		if err != nil {
			return nil, fmt.Errorf("probe %q: %w", spec.Name, err)
		}
		return &metricsProber{spec: spec, cond: cond, client: buildHTTPClient(spec)}, nil
	default:
		return nil, fmt.Errorf("probe: unsupported type %q", spec.Kind)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the spec's auth and TLS
// settings. The client carries no timeout of its own — the scheduler bounds
// every probe with a context deadline.
func buildHTTPClient(spec *config.ServiceSpec) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: spec.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	return &http.Client{
		Transport: &authRoundTripper{base: transport, auth: spec.Auth},
	}
}

// newOutcome initialises an Outcome with identity, timestamp, and an
// allocated metadata map.
func newOutcome(spec *config.ServiceSpec) *Outcome {
	return &Outcome{
		Service:   spec.Name,
		Kind:      spec.Kind,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}
}

// down fills o as a failed outcome with the error captured verbatim.
func down(o *Outcome, err error) *Outcome {
	o.Status = StatusDown
	o.Error = err.Error()
	return o
}
