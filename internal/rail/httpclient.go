package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	httpTimeout    = 30 * time.Second
	retryAttempts  = 3
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 30 * time.Second
)

// httpClient is a JSON client with retries. Network failures, 429s and 5xx
// responses are retried with exponential backoff; other failures surface
// immediately as *Error.
type httpClient struct {
	client    *http.Client
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newHTTPClient() *httpClient {
	return &httpClient{
		client:    &http.Client{Timeout: httpTimeout},
		attempts:  retryAttempts,
		baseDelay: retryBaseDelay,
		maxDelay:  retryMaxDelay,
	}
}

// request performs one JSON API call. op names the call for error messages,
// body is marshaled when non-nil, and the response is unmarshaled into out
// when non-nil.
func (c *httpClient) request(ctx context.Context, op, method, url string, header http.Header, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshaling request: %w", op, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseDelay
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return fmt.Errorf("%s: creating request: %w", op, err)
		}
		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", op, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%s: reading response: %w", op, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &Error{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &Error{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s: decoding response: %w", op, err)
			}
		}
		return nil
	}

	return lastErr
}
