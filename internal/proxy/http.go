package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"warden/pkg/redact"
)

const maxErrorBodyLen = 512

// HTTPProvider calls a JSON-over-HTTP provider endpoint. The endpoint is
// expected to answer with a body matching the Response shape.
type HTTPProvider struct {
	client *http.Client
	url    string
}

func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

func (p *HTTPProvider) Call(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(map[string]interface{}{
		"caller":    req.Caller,
		"tenant_id": req.TenantID,
		"model":     req.Model,
		"payload":   req.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider call failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet := string(respBody)
		if len(snippet) > maxErrorBodyLen {
			snippet = snippet[:maxErrorBodyLen]
		}
		return nil, fmt.Errorf("provider returned status %d: %s", httpResp.StatusCode, redact.String(snippet))
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	return &resp, nil
}
