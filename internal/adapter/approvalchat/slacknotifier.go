package approvalchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/portero-gateway/portero/internal/port/notifier"
)

const slackProviderName = "slack"

// SlackNotifier fans an activity digest out to a Slack incoming webhook,
// rewritten from the teacher's internal/adapter/slack.Notifier to the
// digest/decision message shapes of spec.md §6 while keeping its Block Kit
// wire format.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackNotifier builds a SlackNotifier posting to webhookURL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, httpClient: http.DefaultClient}
}

func (n *SlackNotifier) Name() string { return slackProviderName }

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *SlackNotifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	msg := slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: notification.Title}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: notification.Message}},
	}}
	if notification.Source != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "context",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("_%s_", notification.Source)},
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func init() {
	notifier.Register(slackProviderName, func(config map[string]string) (notifier.Notifier, error) {
		return NewSlackNotifier(config["webhook_url"]), nil
	})
}
