// Package delivery talks to the backend email-send endpoint.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	maxErrorBody        = 200
	unknownDeliveryErr  = "unknown delivery error"
	deliveryTimeoutText = "delivery timeout"
)

// Message is one email to deliver.
type Message struct {
	ToEmail  string
	ToName   string
	Subject  string
	Body     string
	MediaURL string
}

// Result is the outcome of a single send. Error is empty when OK.
type Result struct {
	OK    bool
	Error string
}

type sendRequest struct {
	ToEmail  string `json:"to_email"`
	ToName   string `json:"to_name"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	MediaURL string `json:"media_url,omitempty"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Client posts messages to the send-email endpoint. It never retries.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a client for the full endpoint URL.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

// Send performs one POST and folds every failure mode into Result.
func (c *Client) Send(ctx context.Context, msg Message) Result {
	body, err := json.Marshal(sendRequest{
		ToEmail:  msg.ToEmail,
		ToName:   msg.ToName,
		Subject:  msg.Subject,
		Message:  msg.Body,
		MediaURL: msg.MediaURL,
	})
	if err != nil {
		return failure(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return failure(deliveryTimeoutText)
		}
		return failure(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return failure(deliveryTimeoutText)
		}
		return failure(err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return failure(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), maxErrorBody)))
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return failure(fmt.Sprintf("decode response: %v", err))
	}
	if !parsed.Success {
		if parsed.Error == "" {
			return failure(unknownDeliveryErr)
		}
		return failure(parsed.Error)
	}
	return Result{OK: true}
}

func failure(text string) Result {
	return Result{OK: false, Error: text}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
