// Package events delivers terminal-transition notifications to downstream
// consumers. Delivery is best-effort: a publish failure is counted and logged,
// never surfaced to the state transition that produced it.
package events

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/finvera/txn-engine/internal/models"
)

type Event struct {
	TransactionID string                   `json:"transaction_id"`
	Reference     string                   `json:"reference"`
	Status        models.TransactionStatus `json:"status"`
	From          *models.Endpoint         `json:"from,omitempty"`
	To            *models.Endpoint         `json:"to,omitempty"`
	Amount        decimal.Decimal          `json:"amount"`
	Currency      string                   `json:"currency"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
