// Package limits talks to the tier/limit service consulted once at intake.
// The limit computation rules live on the other side of this call.
package limits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finvera/txn-engine/internal/models"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type Checker interface {
	CheckLimits(ctx context.Context, ownerID string, amount decimal.Decimal, txnType models.TransactionType) (Decision, error)
}

type HTTPChecker struct {
	baseURL string
	client  *http.Client
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPChecker) CheckLimits(ctx context.Context, ownerID string, amount decimal.Decimal, txnType models.TransactionType) (Decision, error) {
	body, err := json.Marshal(map[string]any{
		"owner_id": ownerID,
		"amount":   amount,
		"type":     txnType,
	})
	if err != nil {
		return Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/limits/check", bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("limit check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("limit check: unexpected status %d", resp.StatusCode)
	}

	var d Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return Decision{}, fmt.Errorf("limit check decode: %w", err)
	}
	return d, nil
}

// AllowAll is used when no limit service is configured (dev, tests).
type AllowAll struct{}

func (AllowAll) CheckLimits(context.Context, string, decimal.Decimal, models.TransactionType) (Decision, error) {
	return Decision{Allowed: true}, nil
}
