package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"paygate/pkg/logger"
)

const maxResponseBody = 1 << 20

// postJSON sends payload and decodes the JSON answer into out. Transport
// failures, 5xx, 408 and 429 come back as *TransientError, other non-2xx as
// *RejectedError. It never retries.
func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &TransientError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &TransientError{Provider: provider, Err: err}
	}
	logger.SW("provider", provider, "endpoint", endpoint).
		Debugw("gateway_response", "status", resp.StatusCode, "bytes", len(respBody))

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{Provider: provider, Err: fmt.Errorf("http %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &RejectedError{Provider: provider, Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: truncate(string(respBody), 200)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &TransientError{Provider: provider, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
