// forward tells other systems about payments.  After a draft is saved or a
// payment is approved, an Event is sent to the collaborator service over HTTP
// and, optionally, posted to a Discord channel through a webhook.  The local
// write has already happened by then, so a failure here is only logged by
// the caller.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout limits each outbound call.
const DefaultTimeout = 5 * time.Second

// Kind says what happened.
type Kind string

const (
	KindCash  Kind = "cash"  // A payment was added to a member's total.
	KindDraft Kind = "draft" // A draft payment was created or changed.
)

// Event describes a change to send on.
type Event struct {
	Kind   Kind
	Name   string
	Amount float64
	Status string // Draft events only.
}

// Notifier sends events somewhere.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// payload is the JSON body sent to the collaborator.
type payload struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Status string  `json:"status,omitempty"`
}

// Collaborator posts events to the collaborator service.  Cash events go to
// CashURL and draft events to DraftURL.  An empty URL turns that kind of
// event off.
type Collaborator struct {
	CashURL  string
	DraftURL string
	Client   *http.Client
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewCollaborator creates a Collaborator.
func NewCollaborator(cashURL, draftURL string, timeout time.Duration, logger *slog.Logger) *Collaborator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collaborator{
		CashURL:  cashURL,
		DraftURL: draftURL,
		Client:   &http.Client{},
		Timeout:  timeout,
		Logger:   logger,
	}
}

// Notify posts the event.  A response other than 2xx is an error.
func (c *Collaborator) Notify(ctx context.Context, event Event) error {
	url := c.CashURL
	body := payload{Name: event.Name, Amount: event.Amount}
	if event.Kind == KindDraft {
		url = c.DraftURL
		body.Status = event.Status
	}

	if len(url) == 0 {
		return nil
	}

	data, marshalError := json.Marshal(body)
	if marshalError != nil {
		return marshalError
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, reqError := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if reqError != nil {
		return reqError
	}
	req.Header.Set("Content-Type", "application/json")

	resp, postError := c.Client.Do(req)
	if postError != nil {
		return fmt.Errorf("forward to %s: %w", url, postError)
	}
	defer resp.Body.Close()

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.Logger.Info("forwarded",
		"url", url, "kind", string(event.Kind), "name", event.Name,
		"status", resp.StatusCode, "response", string(responseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward to %s: status %d", url, resp.StatusCode)
	}

	return nil
}

// Multi sends each event to all of its notifiers, even if some fail.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
