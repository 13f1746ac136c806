// ABOUTME: Slack Web API implementation of the chat transport.
// ABOUTME: auth.test serves as the liveness probe; chat.postMessage delivers messages.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultSlackBaseURL is the Slack Web API root.
const DefaultSlackBaseURL = "https://slack.com/api"

// slackTimeout bounds a single Web API call.
const slackTimeout = 30 * time.Second

// Slack implements Transport over the Slack Web API.
type Slack struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewSlack creates a Slack transport. An empty baseURL uses the public
// API root.
func NewSlack(token, baseURL string, logger *slog.Logger) *Slack {
	if baseURL == "" {
		baseURL = DefaultSlackBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		token:   token,
		baseURL: baseURL,
		client:  &http.Client{Timeout: slackTimeout},
		logger:  logger.With("component", "slack"),
	}
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// Ping calls auth.test, the cheapest call that exercises both network and
// credential.
func (s *Slack) Ping(ctx context.Context) error {
	_, err := s.call(ctx, "auth.test", map[string]any{})
	return err
}

// Post sends a channel message and returns its timestamp.
func (s *Slack) Post(ctx context.Context, channel, text string) (string, error) {
	resp, err := s.call(ctx, "chat.postMessage", map[string]any{
		"channel":      channel,
		"text":         text,
		"unfurl_links": false,
	})
	if err != nil {
		return "", err
	}
	return resp.TS, nil
}

// PostThread replies inside an existing thread.
func (s *Slack) PostThread(ctx context.Context, channel, threadTS, text string) error {
	_, err := s.call(ctx, "chat.postMessage", map[string]any{
		"channel":      channel,
		"thread_ts":    threadTS,
		"text":         text,
		"unfurl_links": false,
	})
	return err
}

type slackHistoryResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Messages []struct {
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		User     string `json:"user"`
		BotID    string `json:"bot_id"`
		Text     string `json:"text"`
	} `json:"messages"`
}

// History fetches the most recent channel messages, newest first.
// conversations.history is a read method; Slack takes its arguments as
// query parameters, not a JSON body.
func (s *Slack) History(ctx context.Context, channel string, limit int) ([]InboundMessage, error) {
	q := url.Values{}
	q.Set("channel", channel)
	q.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/conversations.history?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling conversations.history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("conversations.history returned status %d", resp.StatusCode)
	}

	var parsed slackHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding conversations.history response: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("conversations.history failed: %s", parsed.Error)
	}

	out := make([]InboundMessage, 0, len(parsed.Messages))
	for _, m := range parsed.Messages {
		out = append(out, InboundMessage{
			TS:       m.TS,
			ThreadTS: m.ThreadTS,
			User:     m.User,
			BotID:    m.BotID,
			Text:     m.Text,
		})
	}
	return out, nil
}

// call POSTs one Web API method and decodes the envelope. Slack reports
// application errors with HTTP 200 and ok=false.
func (s *Slack) call(ctx context.Context, method string, payload map[string]any) (*slackResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	var parsed slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("%s failed: %s", method, parsed.Error)
	}
	return &parsed, nil
}
