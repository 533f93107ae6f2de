package notify

import (
	"strconv"
	"strings"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/state"
)

// timestampLayout is the fixed format used for the {{timestamp}} variable.
const timestampLayout = "2006-01-02 15:04:05"

// Default templates used when a notifier does not configure its own.
const (
	DefaultSubjectTemplate = "Service alert: {{service_name}} is {{status}}"
	DefaultBodyTemplate    = "Service {{service_name}} ({{service_kind}}) changed from {{old_status}} to {{new_status}} at {{timestamp}}.\n" +
		"Latency: {{latency_ms}} ms\n" +
		"Error: {{error_message}}"
)

// Message is the renderer's view of one transition: plain strings only, so
// rendering is a pure function with no I/O and no clock.
type Message struct {
	ServiceName string
	ServiceKind string
	OldStatus   string
	NewStatus   string
	Timestamp   time.Time
	Latency     time.Duration
	Error       string
	Metadata    map[string]string
}

// NewMessage builds the template message for a transition. Status values are
// upper-cased ("UP", "DOWN", "DEGRADED") to match the conventional alert
// wording.
func NewMessage(tr *state.Transition) Message {
	return Message{
		ServiceName: tr.Service,
		ServiceKind: tr.Kind,
		OldStatus:   strings.ToUpper(string(tr.OldStatus)),
		NewStatus:   strings.ToUpper(string(tr.NewStatus)),
		Timestamp:   tr.Timestamp,
		Latency:     tr.Latency,
		Error:       tr.Error,
		Metadata:    tr.Metadata,
	}
}

// Render substitutes {{var}} placeholders in tmpl with values from msg.
//
// Available variables: service_name, service_kind, status (the new status),
// old_status, new_status, timestamp, latency_ms, error_message, and one
// metadata_<key> per metadata entry. Placeholders that match no variable are
// left as literal text — templates are trusted, user-authored strings, and a
// typo should be visible in the delivered message rather than break delivery.
func Render(tmpl string, msg Message) string {
	vars := map[string]string{
		"service_name":  msg.ServiceName,
		"service_kind":  msg.ServiceKind,
		"status":        msg.NewStatus,
		"old_status":    msg.OldStatus,
		"new_status":    msg.NewStatus,
		"timestamp":     msg.Timestamp.Format(timestampLayout),
		"latency_ms":    strconv.FormatInt(msg.Latency.Milliseconds(), 10),
		"error_message": msg.Error,
	}
	for k, v := range msg.Metadata {
		vars["metadata_"+k] = v
	}

	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
