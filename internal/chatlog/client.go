package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client fetches historical messages from the chatlog bridge's HTTP
// API. It implements FetchFunc via FetchMessages.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// FetchMessages pulls messages for talker between fromDate and toDate
// (inclusive, YYYY-MM-DD). The bridge returns either a bare JSON array
// or an {items: [...]} wrapper; both are accepted.
func (c *Client) FetchMessages(ctx context.Context, talker, fromDate, toDate string) ([]Message, error) {
	q := url.Values{}
	q.Set("talker", talker)
	q.Set("time", fromDate+"~"+toDate)
	q.Set("format", "json")
	endpoint := c.baseURL + "/api/v1/chatlog?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build chatlog request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chatlog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch chatlog: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chatlog response: %w", err)
	}

	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err == nil {
		return msgs, nil
	}
	var wrapper struct {
		Items []Message `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse chatlog response: %w", err)
	}
	return wrapper.Items, nil
}
