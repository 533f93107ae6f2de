package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pulsewatch/pulsewatch/internal/config"
)

// Notifier is the capability interface implemented by every delivery channel.
// Send must respect ctx's deadline; a nil return means the channel accepted
// the message.
type Notifier interface {
	Name() string
	Kind() string
	Send(ctx context.Context, subject, body string) error
}

// New returns the appropriate Notifier for the given spec.
func New(spec *config.NotifierSpec) (Notifier, error) {
	switch spec.Kind {
	case "webhook", "slack", "teams":
		return &webhookNotifier{spec: spec, client: &http.Client{}}, nil
	case "email":
		return &emailNotifier{spec: spec}, nil
	default:
		return nil, fmt.Errorf("notify: unsupported type %q", spec.Kind)
	}
}
