package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the provider-facing shape of a booking. Times are RFC 3339 UTC.
type Event struct {
	TenantID    string `json:"tenantId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartISO    string `json:"startIso"`
	EndISO      string `json:"endIso"`
	Attendee    string `json:"attendee,omitempty"`
}

// Client pushes bookings into an external calendar. CreateEvent returns the
// provider's event id, which the caller persists for later updates.
type Client interface {
	CreateEvent(ctx context.Context, ev Event) (string, error)
	UpdateEvent(ctx context.Context, eventID string, ev Event) error
	DeleteEvent(ctx context.Context, tenantID, eventID string) error
	ProviderID() string
}

type WebhookClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewWebhookClient(baseURL, token string) *WebhookClient {
	return &WebhookClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *WebhookClient) ProviderID() string {
	return "calendar-webhook"
}

func (c *WebhookClient) CreateEvent(ctx context.Context, ev Event) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/events", ev)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("calendar webhook returned %d", resp.StatusCode)
	}
	var out struct {
		EventID string `json:"eventId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.EventID == "" {
		return "", errors.New("calendar webhook returned no eventId")
	}
	return out.EventID, nil
}

func (c *WebhookClient) UpdateEvent(ctx context.Context, eventID string, ev Event) error {
	resp, err := c.do(ctx, http.MethodPut, "/events/"+eventID, ev)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("calendar webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookClient) DeleteEvent(ctx context.Context, tenantID, eventID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/events/"+eventID, Event{TenantID: tenantID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// A 404 means the provider already dropped the event; deletion is done.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("calendar webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookClient) do(ctx context.Context, method, path string, ev Event) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, errors.New("calendar webhook url not configured")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// NoopClient accepts every call and fabricates event ids. Used when no
// provider is configured so the sync loop still drains the pending queue.
type NoopClient struct{}

func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

func (c *NoopClient) ProviderID() string {
	return "calendar-noop"
}

func (c *NoopClient) CreateEvent(_ context.Context, _ Event) (string, error) {
	return "noop-" + uuid.NewString(), nil
}

func (c *NoopClient) UpdateEvent(_ context.Context, _ string, _ Event) error {
	return nil
}

func (c *NoopClient) DeleteEvent(_ context.Context, _ string, _ string) error {
	return nil
}
