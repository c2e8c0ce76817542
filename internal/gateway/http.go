package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/finvera/txn-engine/internal/metrics"
)

// Gateway error codes treated as transient regardless of the retryable flag.
var transientCodes = map[string]bool{
	"timeout":             true,
	"service_unavailable": true,
	"internal_error":      true,
	"network_error":       true,
}

type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTP(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type wireResponse struct {
	Success      bool   `json:"success"`
	Reference    string `json:"reference"`
	Retryable    bool   `json:"retryable"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (g *HTTPGateway) Execute(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/operations", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if g.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	metrics.GatewayDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// Timeout or transport failure. The remote side may still have
		// executed; the idempotency key makes the retry safe.
		return Result{}, fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("gateway response read: %w", err)
	}

	if resp.StatusCode >= 500 {
		return Result{
			Retryable:    true,
			ErrorCode:    "gateway_5xx",
			ErrorMessage: fmt.Sprintf("gateway returned %d", resp.StatusCode),
			Raw:          raw,
		}, nil
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return Result{Raw: raw}, fmt.Errorf("gateway response decode: %w", err)
	}

	res := Result{
		OK:           wr.Success,
		Reference:    wr.Reference,
		Retryable:    wr.Retryable || transientCodes[wr.ErrorCode],
		ErrorCode:    wr.ErrorCode,
		ErrorMessage: wr.ErrorMessage,
		Raw:          raw,
	}
	return res, nil
}
