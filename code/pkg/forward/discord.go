package forward

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord posts events to a Discord channel through a webhook.
type Discord struct {
	Session      *discordgo.Session
	WebhookID    string
	WebhookToken string
	Organisation string
}

// NewDiscord creates a Discord notifier.  It returns nil if the webhook
// is not configured.
func NewDiscord(webhookID, webhookToken, organisation string, timeout time.Duration) (*Discord, error) {
	if len(webhookID) == 0 || len(webhookToken) == 0 {
		return nil, nil
	}

	// A webhook needs no bot token.
	session, err := discordgo.New("")
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	session.Client = &http.Client{Timeout: timeout}

	d := Discord{
		Session:      session,
		WebhookID:    webhookID,
		WebhookToken: webhookToken,
		Organisation: organisation,
	}

	return &d, nil
}

// Notify posts a message describing the event.
func (d *Discord) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := discordgo.WebhookParams{
		Username: d.Organisation,
		Content:  message(event),
	}

	_, err := d.Session.WebhookExecute(d.WebhookID, d.WebhookToken, false, &params)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}

	return nil
}

// message gives the text of the Discord message.
func message(event Event) string {
	amount := strconv.FormatFloat(event.Amount, 'f', -1, 64)
	switch event.Kind {
	case KindCash:
		return fmt.Sprintf("Kas: %s paid %s", event.Name, amount)
	case KindDraft:
		return fmt.Sprintf("Draft: %s, %s (%s)", event.Name, amount, event.Status)
	default:
		return fmt.Sprintf("%s: %s, %s", event.Kind, event.Name, amount)
	}
}
