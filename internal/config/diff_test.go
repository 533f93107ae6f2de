package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func baseConfig() *Config {
	cfg := defaults()
	cfg.Services = map[string]*ServiceSpec{
		"cache-a": {Kind: "tcp", Host: "localhost", Port: 6379},
		"api":     {Kind: "http", Endpoint: "http://localhost:8081/healthz"},
	}
	cfg.Notifiers = map[string]*NotifierSpec{
		"ops": {Kind: "webhook", URL: "http://localhost:9000/hook"},
	}
	applyDefaults(cfg)
	return cfg
}

// clone round-trips through fresh spec values so the two snapshots share no
// pointers — the diff must compare values, not identities.
func cloneConfig(cfg *Config) *Config {
	out := &Config{
		Global:    cfg.Global,
		Services:  make(map[string]*ServiceSpec, len(cfg.Services)),
		Notifiers: make(map[string]*NotifierSpec, len(cfg.Notifiers)),
	}
	for name, s := range cfg.Services {
		c := *s
		out.Services[name] = &c
	}
	for name, n := range cfg.Notifiers {
		c := *n
		c.To = append([]string(nil), n.To...)
		c.CC = append([]string(nil), n.CC...)
		out.Notifiers[name] = &c
	}
	return out
}

func TestCompute_Identical(t *testing.T) {
	old := baseConfig()
	d := Compute(old, cloneConfig(old))
	if !d.Empty() {
		t.Fatalf("identical configs: diff not empty: %+v", d)
	}
}

func TestCompute_AddRemoveService(t *testing.T) {
	old := baseConfig()
	new := cloneConfig(old)
	delete(new.Services, "api")
	new.Services["queue"] = &ServiceSpec{Name: "queue", Kind: "tcp", Host: "mq", Port: 5672,
		Interval: DefaultCheckInterval, Timeout: DefaultProbeTimeout, FailureThreshold: 1}

	d := Compute(old, new)

	wantAdded := []string{"queue"}
	gotAdded := specNames(d.AddedServices)
	if diff := cmp.Diff(wantAdded, gotAdded); diff != "" {
		t.Errorf("added services mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"api"}, d.RemovedServices); diff != "" {
		t.Errorf("removed services mismatch (-want +got):\n%s", diff)
	}
	if len(d.UpdatedServices) != 0 {
		t.Errorf("updated services: got %d, want 0", len(d.UpdatedServices))
	}
}

func TestCompute_UpdatedService(t *testing.T) {
	old := baseConfig()
	new := cloneConfig(old)
	new.Services["cache-a"].Interval = 5 * time.Second

	d := Compute(old, new)

	if got := specNames(d.UpdatedServices); len(got) != 1 || got[0] != "cache-a" {
		t.Fatalf("updated services: got %v, want [cache-a]", got)
	}
	if len(d.AddedServices) != 0 || len(d.RemovedServices) != 0 {
		t.Errorf("unexpected adds/removes: %+v", d)
	}
}

func TestCompute_NotifierChanges(t *testing.T) {
	old := baseConfig()
	new := cloneConfig(old)
	new.Notifiers["ops"].URL = "http://localhost:9001/hook"
	new.Notifiers["mail"] = &NotifierSpec{Name: "mail", Kind: "email",
		SMTPHost: "smtp.example.com", From: "a@b", To: []string{"c@d"}}

	d := Compute(old, new)

	if got := notifierNames(d.UpdatedNotifiers); len(got) != 1 || got[0] != "ops" {
		t.Errorf("updated notifiers: got %v, want [ops]", got)
	}
	if got := notifierNames(d.AddedNotifiers); len(got) != 1 || got[0] != "mail" {
		t.Errorf("added notifiers: got %v, want [mail]", got)
	}
}

func TestCompute_GlobalChanged(t *testing.T) {
	old := baseConfig()
	new := cloneConfig(old)
	new.Global.MaxConcurrentProbes = 3

	if d := Compute(old, new); !d.GlobalChanged {
		t.Fatal("global change not detected")
	}
}

func TestCompute_Deterministic(t *testing.T) {
	old := defaults()
	new := cloneConfig(old)
	new.Services = map[string]*ServiceSpec{
		"zeta":  {Kind: "tcp", Host: "z", Port: 1},
		"alpha": {Kind: "tcp", Host: "a", Port: 1},
		"mid":   {Kind: "tcp", Host: "m", Port: 1},
	}
	applyDefaults(new)

	d := Compute(old, new)
	want := []string{"alpha", "mid", "zeta"}
	if diff := cmp.Diff(want, specNames(d.AddedServices)); diff != "" {
		t.Errorf("added services not sorted (-want +got):\n%s", diff)
	}
}

func specNames(specs []*ServiceSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

func notifierNames(specs []*NotifierSpec) []string {
	out := make([]string, 0, len(specs))
	for _, n := range specs {
		out = append(out, n.Name)
	}
	return out
}
