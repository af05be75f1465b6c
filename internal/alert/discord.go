package alert

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Discord delivers alerts through a webhook
type Discord struct {
	http       *resty.Client
	webhookURL string
}

// NewDiscord creates the notifier for a webhook URL
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		http:       resty.New().SetTimeout(10 * time.Second),
		webhookURL: webhookURL,
	}
}

// Send posts one message to the webhook
func (d *Discord) Send(text string) error {
	resp, err := d.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"content": text}).
		Post(d.webhookURL)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("discord webhook: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Name identifies the channel in logs
func (d *Discord) Name() string { return "discord" }
