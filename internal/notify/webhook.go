package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pulsewatch/pulsewatch/internal/config"
)

// webhookNotifier delivers rendered alerts as JSON POSTs. The payload shape
// depends on the kind: slack and teams use their respective message formats,
// webhook posts a generic {"subject", "body"} document.
type webhookNotifier struct {
	spec   *config.NotifierSpec
	client *http.Client
}

func (w *webhookNotifier) Name() string { return w.spec.Name }
func (w *webhookNotifier) Kind() string { return w.spec.Kind }

func (w *webhookNotifier) Send(ctx context.Context, subject, body string) error {
	url := w.spec.TargetURL()
	if url == "" {
		return fmt.Errorf("webhook %q: no target URL configured", w.spec.Name)
	}

	var payload any
	switch w.spec.Kind {
	case "slack":
		payload = map[string]string{
			"text": fmt.Sprintf("*%s*\n%s", subject, body),
		}
	case "teams":
		payload = map[string]any{
			"@type":    "MessageCard",
			"@context": "http://schema.org/extensions",
			"summary":  subject,
			"title":    subject,
			"text":     body,
		}
	default:
		payload = map[string]string{
			"subject": subject,
			"body":    body,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
