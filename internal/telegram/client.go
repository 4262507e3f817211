// Package telegram is a minimal Bot API client: sendMessage,
// editMessageText, answerCallbackQuery, sendDocument/sendPhoto,
// getUpdates, setWebhook/deleteWebhook, with 429 retry-after handling.
// Grounded on dmorn-m4d-coso's sdk/telegram client/poll/send.go.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const apiBaseURL = "https://api.telegram.org/bot%s/%s"

// Client is a Bot API client bound to one bot token.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string // overridable for tests
}

// New returns a Client for token.
func New(token string) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    apiBaseURL,
	}
}

// NewWithBaseURL is New with an overridden API base URL template
// (must contain two %s verbs for token and method), used to point the
// client at a test server.
func NewWithBaseURL(token, baseURL string) *Client {
	c := New(token)
	c.baseURL = baseURL
	return c
}

// APIError wraps a non-ok Telegram API response. RetryAfter is nonzero
// only for 429 responses that carried retry parameters.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// call performs one HTTP round trip against method with no retry
// policy applied; do() layers retry on top of this.
func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	url := fmt.Sprintf(c.baseURL, c.token, method)

	var req *http.Request
	var err error
	if payload == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		var body []byte
		body, err = json.Marshal(payload)
		if err == nil {
			req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err == nil {
				req.Header.Set("Content-Type", "application/json")
			}
		}
	}
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}

	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if apiErr.Description == "" {
			apiErr.Description = "unknown error"
		}
		if resp.StatusCode == http.StatusTooManyRequests && env.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	if result != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decode telegram result for %s: %w", method, err)
		}
	}
	return nil
}
