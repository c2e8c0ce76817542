// Package gateway is the client side of the core-banking system that actually
// moves money. The engine treats it as an opaque, idempotency-key-aware
// service and never inspects the raw payloads beyond the result envelope.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/finvera/txn-engine/internal/models"
)

type Operation string

const (
	OpDebit    Operation = "debit"
	OpCredit   Operation = "credit"
	OpTransfer Operation = "transfer"
)

// OperationFor maps a transaction type to the gateway operation. One-sided
// types debit or credit a single endpoint; every two-sided type is a transfer.
func OperationFor(t models.TransactionType) Operation {
	switch t {
	case models.TxnDebit, models.TxnWalletDebit:
		return OpDebit
	case models.TxnCredit, models.TxnWalletCredit:
		return OpCredit
	default:
		return OpTransfer
	}
}

type Request struct {
	Operation      Operation        `json:"operation"`
	From           *models.Endpoint `json:"from,omitempty"`
	To             *models.Endpoint `json:"to,omitempty"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
	Narration      string           `json:"narration,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
}

// Result is the interpreted gateway outcome. OK carries the authoritative
// core-banking reference; otherwise Retryable decides between the retry
// policy and an immediate permanent failure.
type Result struct {
	OK           bool
	Reference    string
	Retryable    bool
	ErrorCode    string
	ErrorMessage string
	Raw          []byte
}

// Gateway executes a money movement. A non-nil error means the call itself
// failed (timeout, transport); the engine treats that as transient.
type Gateway interface {
	Execute(ctx context.Context, req Request) (Result, error)
}
