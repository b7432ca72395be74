// Package notify posts ingestion lifecycle events to a configured chat
// webhook. A delivery failure is logged and never fails the ingestion
// command that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier posts start/completion events for one dataset ingestion run.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// New returns a Notifier. An empty webhookURL makes every call a no-op,
// which is the default when notify.slack_channel_url is unset.
func New(webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type payload struct {
	Text string `json:"text"`
}

// Started announces that loading name/version began.
func (n *Notifier) Started(ctx context.Context, name, version string) {
	n.post(ctx, fmt.Sprintf(":hourglass_flowing_sand: loading *%s* version `%s`...", name, version))
}

// Completed announces success or failure of loading name/version.
func (n *Notifier) Completed(ctx context.Context, name, version string, err error) {
	if err != nil {
		n.post(ctx, fmt.Sprintf(":x: load of *%s* version `%s` failed: %s", name, version, err.Error()))
		return
	}
	n.post(ctx, fmt.Sprintf(":white_check_mark: *%s* version `%s` loaded", name, version))
}

func (n *Notifier) post(ctx context.Context, text string) {
	if n.webhookURL == "" {
		return
	}
	body, err := json.Marshal(payload{Text: text})
	if err != nil {
		n.logf("marshal notification: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logf("build notification request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logf("send notification: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logf("notification webhook returned status %d", resp.StatusCode)
	}
}

func (n *Notifier) logf(format string, args ...interface{}) {
	if n.logger == nil {
		return
	}
	n.logger.Warn(fmt.Sprintf(format, args...))
}
