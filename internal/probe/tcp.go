package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
)

// tcpProber checks that the service accepts TCP connections. It covers
// caches, databases, and brokers at the reachability level without speaking
// their protocols — a refused or timed-out connect is down, an accepted one
// is up.
type tcpProber struct {
	spec *config.ServiceSpec
}

func (p *tcpProber) Check(ctx context.Context) *Outcome {
	out := newOutcome(p.spec)
	addr := net.JoinHostPort(p.spec.Host, strconv.Itoa(p.spec.Port))

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	out.Latency = time.Since(start)
	if err != nil {
		return down(out, err)
	}
	defer conn.Close()

	out.Status = StatusUp
	out.Metadata["remote_addr"] = conn.RemoteAddr().String()
	return out
}
