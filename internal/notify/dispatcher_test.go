package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/probe"
	"github.com/pulsewatch/pulsewatch/internal/state"
)

// captureServer records the decoded webhook payloads it receives, in order.
type captureServer struct {
	mu       sync.Mutex
	payloads []map[string]string
	srv      *httptest.Server
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Errorf("bad webhook payload: %v", err)
		}
		cs.mu.Lock()
		cs.payloads = append(cs.payloads, payload)
		cs.mu.Unlock()
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) received() []map[string]string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]map[string]string(nil), cs.payloads...)
}

func webhookSpec(name, url string) *config.NotifierSpec {
	return &config.NotifierSpec{
		Name: name,
		Kind: "webhook",
		URL:  url,
		Retry: config.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Millisecond,
			Timeout:      2 * time.Second,
		},
	}
}

func transition(service string, old, new probe.Status, errText string) *state.Transition {
	return &state.Transition{
		Service:   service,
		Kind:      "tcp",
		OldStatus: old,
		NewStatus: new,
		Timestamp: time.Now().UTC(),
		Error:     errText,
	}
}

// waitRecords polls until the dispatcher has at least n delivery records.
func waitRecords(t *testing.T, d *Dispatcher, n int) []DeliveryRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if recs := d.Records(0); len(recs) >= n {
			return recs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d delivery records (have %d)", n, len(d.Records(0)))
	return nil
}

func TestDispatcher_FansOutToEveryNotifier(t *testing.T) {
	a := newCaptureServer(t)
	b := newCaptureServer(t)

	d := NewDispatcher()
	defer d.Close(time.Second)
	err := d.Configure(map[string]*config.NotifierSpec{
		"hook-a": webhookSpec("hook-a", a.srv.URL),
		"hook-b": webhookSpec("hook-b", b.srv.URL),
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	d.Dispatch(transition("cache-a", probe.StatusUp, probe.StatusDown, "connection refused"))

	recs := waitRecords(t, d, 2)
	for _, rec := range recs {
		if !rec.Success {
			t.Errorf("notifier %s failed: %s", rec.Notifier, rec.Error)
		}
		if rec.Attempts != 1 {
			t.Errorf("notifier %s attempts: got %d, want 1", rec.Notifier, rec.Attempts)
		}
	}

	if got := a.received(); len(got) != 1 {
		t.Fatalf("hook-a payloads: got %d, want 1", len(got))
	} else if got[0]["subject"] != "Service alert: cache-a is DOWN" {
		t.Errorf("subject: got %q", got[0]["subject"])
	}
	if got := b.received(); len(got) != 1 {
		t.Errorf("hook-b payloads: got %d, want 1", len(got))
	}
}

func TestDispatcher_PerServiceOrderPreserved(t *testing.T) {
	cs := newCaptureServer(t)

	d := NewDispatcher()
	defer d.Close(time.Second)
	if err := d.Configure(map[string]*config.NotifierSpec{
		"hook": webhookSpec("hook", cs.srv.URL),
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	d.Dispatch(transition("svc", probe.StatusUp, probe.StatusDown, "x"))
	d.Dispatch(transition("svc", probe.StatusDown, probe.StatusUp, ""))

	waitRecords(t, d, 2)

	got := cs.received()
	if len(got) != 2 {
		t.Fatalf("payloads: got %d, want 2", len(got))
	}
	if got[0]["subject"] != "Service alert: svc is DOWN" {
		t.Errorf("first delivery: got %q, want the DOWN alert first", got[0]["subject"])
	}
	if got[1]["subject"] != "Service alert: svc is UP" {
		t.Errorf("second delivery: got %q, want the UP alert second", got[1]["subject"])
	}
}

func TestDispatcher_FailedNotifierDoesNotBlockOthers(t *testing.T) {
	ok := newCaptureServer(t)

	// A server that always refuses.
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	d := NewDispatcher()
	defer d.Close(time.Second)
	if err := d.Configure(map[string]*config.NotifierSpec{
		"good": webhookSpec("good", ok.srv.URL),
		"bad":  webhookSpec("bad", bad.URL),
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	d.Dispatch(transition("svc", probe.StatusUp, probe.StatusDown, "x"))

	recs := waitRecords(t, d, 2)
	byName := map[string]DeliveryRecord{}
	for _, rec := range recs {
		byName[rec.Notifier] = rec
	}

	if !byName["good"].Success {
		t.Errorf("good notifier: %s", byName["good"].Error)
	}
	if byName["bad"].Success {
		t.Error("bad notifier reported success")
	}
	if byName["bad"].Attempts != 2 {
		t.Errorf("bad notifier attempts: got %d, want the full retry budget of 2", byName["bad"].Attempts)
	}
	if len(ok.received()) != 1 {
		t.Errorf("good notifier deliveries: got %d, want 1", len(ok.received()))
	}
}

func TestDispatcher_ConfigureRejectsBadSpecAtomically(t *testing.T) {
	cs := newCaptureServer(t)

	d := NewDispatcher()
	defer d.Close(time.Second)
	if err := d.Configure(map[string]*config.NotifierSpec{
		"hook": webhookSpec("hook", cs.srv.URL),
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	err := d.Configure(map[string]*config.NotifierSpec{
		"hook":   webhookSpec("hook", cs.srv.URL),
		"broken": {Name: "broken", Kind: "carrier-pigeon"},
	})
	if err == nil {
		t.Fatal("want error for unsupported notifier type")
	}

	// The previous set must still be live.
	d.Dispatch(transition("svc", probe.StatusUp, probe.StatusDown, "x"))
	waitRecords(t, d, 1)
	if len(cs.received()) != 1 {
		t.Errorf("deliveries after rejected reload: got %d, want 1", len(cs.received()))
	}
}

func TestDispatcher_QuiesceRemovesServiceQueue(t *testing.T) {
	cs := newCaptureServer(t)

	d := NewDispatcher()
	defer d.Close(time.Second)
	if err := d.Configure(map[string]*config.NotifierSpec{
		"hook": webhookSpec("hook", cs.srv.URL),
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	d.Dispatch(transition("retired", probe.StatusUp, probe.StatusDown, "x"))
	waitRecords(t, d, 1)

	d.Quiesce("retired")
	d.mu.Lock()
	n := len(d.queues)
	d.mu.Unlock()
	if n != 0 {
		t.Fatalf("queues after quiesce: got %d, want 0", n)
	}

	// Dispatching the same name again builds a fresh queue and still delivers.
	d.Dispatch(transition("retired", probe.StatusDown, probe.StatusUp, ""))
	waitRecords(t, d, 2)
	if got := cs.received(); len(got) != 2 {
		t.Errorf("deliveries: got %d, want 2", len(got))
	}
}

func TestDispatcher_FullQueueDropsOldest(t *testing.T) {
	var (
		mu      sync.Mutex
		bodies  []string
		arrived int
	)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var payload map[string]string
		_ = json.Unmarshal(data, &payload)
		mu.Lock()
		bodies = append(bodies, payload["body"])
		arrived++
		mu.Unlock()
		<-release
	}))
	defer srv.Close()

	d := NewDispatcher()
	defer d.Close(5 * time.Second)
	if err := d.Configure(map[string]*config.NotifierSpec{
		"hook": webhookSpec("hook", srv.URL),
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	evt := func(i int) *state.Transition {
		return transition("svc", probe.StatusUp, probe.StatusDown, fmt.Sprintf("evt-%03d", i))
	}

	// Park the worker inside the first delivery so the queue fills behind it.
	d.Dispatch(evt(0))
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := arrived
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first delivery never reached the server")
		}
		time.Sleep(time.Millisecond)
	}

	// Fill the queue (1..128), then overflow it twice (129, 130): each
	// overflow must evict the oldest pending transition, never the newest.
	for i := 1; i <= queueDepth+2; i++ {
		d.Dispatch(evt(i))
	}

	close(release)
	waitRecords(t, d, queueDepth+1)

	mu.Lock()
	got := append([]string(nil), bodies...)
	mu.Unlock()

	if len(got) != queueDepth+1 {
		t.Fatalf("deliveries: got %d, want %d", len(got), queueDepth+1)
	}
	if !strings.Contains(got[0], "evt-000") {
		t.Errorf("first delivery: got %q, want the in-flight evt-000", got[0])
	}
	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, fmt.Sprintf("evt-%03d", queueDepth+2)) {
		t.Error("newest transition was dropped — the final state must survive a full queue")
	}
	for _, dropped := range []string{"evt-001", "evt-002"} {
		if strings.Contains(joined, dropped) {
			t.Errorf("%s delivered — the oldest pending transitions should have been evicted", dropped)
		}
	}
}

func TestDispatcher_DispatchAfterCloseIsNoop(t *testing.T) {
	cs := newCaptureServer(t)

	d := NewDispatcher()
	if err := d.Configure(map[string]*config.NotifierSpec{
		"hook": webhookSpec("hook", cs.srv.URL),
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	d.Close(time.Second)

	d.Dispatch(transition("svc", probe.StatusUp, probe.StatusDown, "x"))
	time.Sleep(20 * time.Millisecond)
	if len(cs.received()) != 0 {
		t.Errorf("deliveries after close: got %d, want 0", len(cs.received()))
	}
}

func TestDispatcher_NoNotifiersIsNoop(t *testing.T) {
	d := NewDispatcher()
	defer d.Close(time.Second)
	d.Dispatch(transition("svc", probe.StatusUp, probe.StatusDown, "x"))
	if recs := d.Records(0); len(recs) != 0 {
		t.Errorf("records: got %d, want 0", len(recs))
	}
}
