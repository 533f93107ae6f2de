package probe

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
)

// maxBodyBytes bounds how much of a response body is read when an
// expect_body substring check is configured.
const maxBodyBytes = 1 << 20

// httpProber performs an HTTP request against the service endpoint and
// classifies the response.
//
// Classification:
//   - transport error, timeout, or unexpected status → down
//   - expected status but expect_body substring missing → degraded
//   - otherwise → up
//
// For HTTPS endpoints the leaf certificate's remaining lifetime is recorded
// as cert_days_left metadata so alert templates and operators can see
// expiring certificates before they break the service.
type httpProber struct {
	spec   *config.ServiceSpec
	client *http.Client
}

func (p *httpProber) Check(ctx context.Context) *Outcome {
	out := newOutcome(p.spec)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, p.spec.Method, p.spec.Endpoint, nil)
	if err != nil {
		return down(out, fmt.Errorf("build request: %w", err))
	}

	resp, err := p.client.Do(req)
	out.Latency = time.Since(start)
	if err != nil {
		return down(out, err)
	}
	defer resp.Body.Close()

	out.Metadata["status_code"] = strconv.Itoa(resp.StatusCode)
	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		leaf := resp.TLS.PeerCertificates[0]
		daysLeft := math.Floor(time.Until(leaf.NotAfter).Hours() / 24)
		out.Metadata["cert_days_left"] = strconv.FormatFloat(daysLeft, 'f', 0, 64)
	}

	if !p.statusOK(resp.StatusCode) {
		return down(out, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if p.spec.ExpectBody != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return down(out, fmt.Errorf("read body: %w", err))
		}
		if !strings.Contains(string(body), p.spec.ExpectBody) {
			out.Status = StatusDegraded
			out.Error = fmt.Sprintf("body does not contain %q", p.spec.ExpectBody)
			return out
		}
	}

	out.Status = StatusUp
	return out
}

// statusOK reports whether code matches the configured expectation.
// With no explicit expect_status, any 2xx is healthy.
func (p *httpProber) statusOK(code int) bool {
	if p.spec.ExpectStatus != 0 {
		return code == p.spec.ExpectStatus
	}
	return code >= 200 && code < 300
}
