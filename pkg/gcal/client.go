// Package gcal synchronizes delivery and installation appointments to a
// calendar API.
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// DefaultTimeout is the default request timeout.
const DefaultTimeout = 15 * time.Second

const maxResponseSize = 2 * 1024 * 1024

// Config holds the calendar gateway configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Event is a calendar appointment. ClientID ties the event back to the
// client it was created for and is how orphaned events are found again.
type Event struct {
	ID          string            `json:"id,omitempty"`
	Summary     string            `json:"summary"`
	Description string            `json:"description,omitempty"`
	Location    string            `json:"location,omitempty"`
	Start       EventTime         `json:"start"`
	End         EventTime         `json:"end"`
	Extended    map[string]string `json:"extendedProperties,omitempty"`
}

// EventTime is either an all-day date or a timed instant.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

// Client talks to the calendar API.
type Client struct {
	cfg    Config
	client *http.Client
	logger ectologger.Logger
}

// NewClient creates a calendar gateway.
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Enabled reports whether a calendar API is configured at all.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.BaseURL != ""
}

// Get fetches one event by id. Returns (nil, nil) when the event is gone.
func (c *Client) Get(ctx context.Context, calendarID, eventID string) (*Event, error) {
	ctx, span := tracing.StartSpan(ctx, "gcal.Get")
	defer span.End()

	var event Event
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	err := c.call(ctx, http.MethodGet, path, nil, &event)
	if err != nil {
		if isGone(err) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// Search lists events in a time window whose private properties match the
// given client id.
func (c *Client) Search(ctx context.Context, calendarID, clientID string, from, to time.Time) ([]Event, error) {
	ctx, span := tracing.StartSpan(ctx, "gcal.Search")
	defer span.End()

	var payload struct {
		Items []Event `json:"items"`
	}

	query := url.Values{}
	query.Set("timeMin", from.Format(time.RFC3339))
	query.Set("timeMax", to.Format(time.RFC3339))
	query.Set("privateExtendedProperty", "clientId="+clientID)
	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(calendarID), query.Encode())

	if err := c.call(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// Insert creates an event and returns it with its assigned id.
func (c *Client) Insert(ctx context.Context, calendarID string, event Event) (*Event, error) {
	ctx, span := tracing.StartSpan(ctx, "gcal.Insert")
	defer span.End()

	var created Event
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	if err := c.call(ctx, http.MethodPost, path, event, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Update replaces an existing event.
func (c *Client) Update(ctx context.Context, calendarID string, event Event) error {
	ctx, span := tracing.StartSpan(ctx, "gcal.Update")
	defer span.End()

	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(event.ID))
	return c.call(ctx, http.MethodPut, path, event, nil)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("calendar request failed: %s %s", method, path)
		return errors.Wrapf(err, "request failed: %s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Wrap(err, "failed to decode response body")
		}
	}
	return nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("calendar api returned %d: %s", e.status, e.body)
}

// isGone treats both deleted (410) and never-existed (404) the same way.
func isGone(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.status == http.StatusNotFound || apiErr.status == http.StatusGone
}
