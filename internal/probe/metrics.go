package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/pulsewatch/pulsewatch/internal/config"
)

// metricsProber scrapes a Prometheus text exposition endpoint and evaluates
// the configured health condition against it.
//
// Classification:
//   - scrape or parse failure → down
//   - exposition parsed but condition false → degraded (the service is
//     serving metrics, so it is reachable — only its reported health is off)
//   - condition true → up
type metricsProber struct {
	spec   *config.ServiceSpec
	cond   config.Condition
	client *http.Client
}

func (p *metricsProber) Check(ctx context.Context) *Outcome {
	out := newOutcome(p.spec)
	start := time.Now()

	mfs, err := p.fetch(ctx)
	out.Latency = time.Since(start)
	if err != nil {
		return down(out, err)
	}

	v := sumFamily(mfs[p.cond.Field])
	out.Metadata[p.cond.Field] = strconv.FormatFloat(v, 'f', -1, 64)

	if !p.cond.Holds(v) {
		out.Status = StatusDegraded
		out.Error = fmt.Sprintf("condition %q not met: %s = %g", p.spec.Condition, p.cond.Field, v)
		return out
	}

	out.Status = StatusUp
	return out
}

// fetch performs an HTTP GET to the endpoint and returns parsed metric families.
func (p *metricsProber) fetch(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.spec.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	// Non-empty result with a non-nil err means partial parse (trailing
	// lines, format warnings). Treat as success.
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
