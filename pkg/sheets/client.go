// Package sheets is the gateway to the tabular store's values API. All range
// addresses use A1 notation; tab titles are quoted so titles with spaces
// survive.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/tendril/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 15 * time.Second

	// maxResponseSize caps a values response (5MB).
	maxResponseSize = 5 * 1024 * 1024
)

// Config holds the gateway configuration.
type Config struct {
	BaseURL       string
	Token         string
	SpreadsheetID string
	Timeout       time.Duration
	PacingDelay   time.Duration
}

// Client talks to the values API of one spreadsheet. Safe for concurrent use;
// pacing is serialized across callers.
type Client struct {
	cfg    Config
	client *http.Client
	logger ectologger.Logger

	paceMu   sync.Mutex
	lastCall time.Time
}

// ValueRange is one rectangular block of cells.
type ValueRange struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

// NewClient creates a gateway over the configured spreadsheet.
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

// TabTitles lists the spreadsheet's tab titles in sheet order.
func (c *Client) TabTitles(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "sheets.TabTitles")
	defer span.End()

	var payload struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}

	path := fmt.Sprintf("/v4/spreadsheets/%s?fields=sheets.properties.title", c.cfg.SpreadsheetID)
	if err := c.call(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(payload.Sheets))
	for _, s := range payload.Sheets {
		titles = append(titles, s.Properties.Title)
	}
	return titles, nil
}

// GetRange reads a rectangular block from one tab. When the tab title is not
// found verbatim, the call is retried once with surrounding whitespace
// trimmed, since some tabs carry stray spaces in their titles.
func (c *Client) GetRange(ctx context.Context, tab, rangeA1 string) ([][]string, error) {
	ctx, span := tracing.StartSpan(ctx, "sheets.GetRange")
	defer span.End()

	values, err := c.getValues(ctx, tab, rangeA1)
	if err != nil && isNotFound(err) && strings.TrimSpace(tab) != tab {
		c.logger.WithContext(ctx).WithFields(map[string]any{"tab": tab}).
			Debug("retrying range read with trimmed tab title")
		values, err = c.getValues(ctx, strings.TrimSpace(tab), rangeA1)
	}
	return values, err
}

// GetCell reads a single cell, returning "" for an empty or missing cell.
func (c *Client) GetCell(ctx context.Context, tab, cellA1 string) (string, error) {
	values, err := c.GetRange(ctx, tab, fmt.Sprintf("%s:%s", cellA1, cellA1))
	if err != nil {
		return "", err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return "", nil
	}
	return values[0][0], nil
}

// UpdateCell writes a single cell.
func (c *Client) UpdateCell(ctx context.Context, tab, cellA1, value string) error {
	return c.BatchUpdate(ctx, []ValueRange{{
		Range:  rangeRef(tab, fmt.Sprintf("%s:%s", cellA1, cellA1)),
		Values: [][]string{{value}},
	}})
}

// BatchUpdate writes several ranges in one request. Grouping the per-cell
// diffs of a row into a single batch keeps quota use flat regardless of how
// many cells changed.
func (c *Client) BatchUpdate(ctx context.Context, data []ValueRange) error {
	ctx, span := tracing.StartSpan(ctx, "sheets.BatchUpdate")
	defer span.End()

	if len(data) == 0 {
		return nil
	}

	body := map[string]any{
		"valueInputOption": "USER_ENTERED",
		"data":             data,
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values:batchUpdate", c.cfg.SpreadsheetID)
	return c.call(ctx, http.MethodPost, path, body, nil)
}

// Append adds one row after the last data row of a tab and returns the
// 1-based index the row landed on.
func (c *Client) Append(ctx context.Context, tab string, cells []string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "sheets.Append")
	defer span.End()

	var payload struct {
		Updates struct {
			UpdatedRange string `json:"updatedRange"`
		} `json:"updates"`
	}

	body := map[string]any{
		"values": [][]string{cells},
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED",
		c.cfg.SpreadsheetID, url.PathEscape(rangeRef(tab, "A:Z")))
	if err := c.call(ctx, http.MethodPost, path, body, &payload); err != nil {
		return 0, err
	}

	row, err := rowFromRange(payload.Updates.UpdatedRange)
	if err != nil {
		return 0, errors.Wrapf(err, "append to %s returned unusable range %q", tab, payload.Updates.UpdatedRange)
	}
	return row, nil
}

// RangeRef builds a quoted tab-qualified A1 reference.
func RangeRef(tab, rangeA1 string) string {
	return rangeRef(tab, rangeA1)
}

func rangeRef(tab, rangeA1 string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(tab, "'", "''"), rangeA1)
}

// rowFromRange extracts the starting row index from an updated range like
// "'Corse'!A57:Q57".
func rowFromRange(updatedRange string) (int, error) {
	ref := updatedRange
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		ref = ref[i+1:]
	}
	if i := strings.Index(ref, ":"); i >= 0 {
		ref = ref[:i]
	}
	digits := strings.TrimLeftFunc(ref, func(r rune) bool { return r < '0' || r > '9' })
	row, err := strconv.Atoi(digits)
	if err != nil || row <= 0 {
		return 0, errors.Errorf("no row index in %q", updatedRange)
	}
	return row, nil
}

func (c *Client) getValues(ctx context.Context, tab, rangeA1 string) ([][]string, error) {
	var payload struct {
		Values [][]string `json:"values"`
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s",
		c.cfg.SpreadsheetID, url.PathEscape(rangeRef(tab, rangeA1)))
	if err := c.call(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Values, nil
}

// call executes one API request with pacing, auth and JSON codec handling.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	c.pace()

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

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("sheet request failed: %s %s", method, path)
		return errors.Wrapf(err, "request failed: %s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	c.logger.WithContext(ctx).Debugf("sheet %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))

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

// pace enforces the minimum delay between consecutive API calls so burst
// writes stay under the provider's per-minute quota.
func (c *Client) pace() {
	if c.cfg.PacingDelay <= 0 {
		return
	}
	c.paceMu.Lock()
	defer c.paceMu.Unlock()
	if wait := c.cfg.PacingDelay - time.Since(c.lastCall); wait > 0 {
		time.Sleep(wait)
	}
	c.lastCall = time.Now()
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("sheet api returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound
}
