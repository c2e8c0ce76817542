package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxnDebit           TransactionType = "debit"
	TxnCredit          TransactionType = "credit"
	TxnTransfer        TransactionType = "transfer"
	TxnWalletTransfer  TransactionType = "wallet_transfer"
	TxnWalletDebit     TransactionType = "wallet_debit"
	TxnWalletCredit    TransactionType = "wallet_credit"
	TxnAccountToWallet TransactionType = "account_to_wallet"
	TxnWalletToAccount TransactionType = "wallet_to_account"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxnDebit, TxnCredit, TxnTransfer, TxnWalletTransfer,
		TxnWalletDebit, TxnWalletCredit, TxnAccountToWallet, TxnWalletToAccount:
		return true
	}
	return false
}

type TransactionSource string

const (
	SourceMobileBanking TransactionSource = "mobile_banking"
	SourceWallet        TransactionSource = "wallet"
	SourceAdmin         TransactionSource = "admin"
	SourceAPI           TransactionSource = "api"
)

func (s TransactionSource) Valid() bool {
	switch s {
	case SourceMobileBanking, SourceWallet, SourceAdmin, SourceAPI:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxnPending         TransactionStatus = "pending"
	TxnProcessing      TransactionStatus = "processing"
	TxnCompleted       TransactionStatus = "completed"
	TxnFailed          TransactionStatus = "failed"
	TxnFailedPermanent TransactionStatus = "failed_permanent"

	// TxnReversed is never stored as a status. A reversed transaction keeps
	// status=completed; "reversed" is derived from ReversalReason plus the
	// linkage on the compensating record.
	TxnReversed TransactionStatus = "reversed"
)

// LegalTransition reports whether from->to belongs to the state machine.
// from == nil is the start pseudo-state of a freshly created record.
func LegalTransition(from *TransactionStatus, to TransactionStatus) bool {
	if from == nil {
		return to == TxnPending
	}
	switch *from {
	case TxnPending:
		return to == TxnProcessing
	case TxnProcessing:
		return to == TxnCompleted || to == TxnFailed || to == TxnFailedPermanent
	case TxnFailed:
		return to == TxnProcessing || to == TxnFailedPermanent
	}
	return false
}

// EndpointKind distinguishes core-banking accounts from wallets.
type EndpointKind string

const (
	EndpointAccount EndpointKind = "account"
	EndpointWallet  EndpointKind = "wallet"
)

// Endpoint is one canonical side of a money movement.
type Endpoint struct {
	Kind EndpointKind `json:"kind"`
	Ref  string       `json:"ref"`
}

type Transaction struct {
	ID          string            `json:"id"`
	Reference   string            `json:"reference"`
	Type        TransactionType   `json:"type"`
	Source      TransactionSource `json:"source"`
	Status      TransactionStatus `json:"status"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`

	FromAccountID *string `json:"from_account_id,omitempty"`
	FromWalletID  *string `json:"from_wallet_id,omitempty"`
	ToAccountID   *string `json:"to_account_id,omitempty"`
	ToWalletID    *string `json:"to_wallet_id,omitempty"`

	// Core-banking linkage. Raw payloads are kept for audit only and are
	// never parsed again by the engine.
	CoreBankingRef  *string `json:"core_banking_ref,omitempty"`
	GatewayRequest  []byte  `json:"-"`
	GatewayResponse []byte  `json:"-"`

	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`

	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	IsReversal     bool    `json:"is_reversal"`
	OriginalTxnID  *string `json:"original_txn_id,omitempty"`
	ReversalReason *string `json:"reversal_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// From returns the canonical source endpoint, if any.
func (t *Transaction) From() *Endpoint {
	if t.FromAccountID != nil {
		return &Endpoint{Kind: EndpointAccount, Ref: *t.FromAccountID}
	}
	if t.FromWalletID != nil {
		return &Endpoint{Kind: EndpointWallet, Ref: *t.FromWalletID}
	}
	return nil
}

// To returns the canonical destination endpoint, if any.
func (t *Transaction) To() *Endpoint {
	if t.ToAccountID != nil {
		return &Endpoint{Kind: EndpointAccount, Ref: *t.ToAccountID}
	}
	if t.ToWalletID != nil {
		return &Endpoint{Kind: EndpointWallet, Ref: *t.ToWalletID}
	}
	return nil
}

func (t *Transaction) Terminal() bool {
	return t.Status == TxnCompleted || t.Status == TxnFailedPermanent
}

// EndpointSpec describes which sides a transaction type moves money between.
type EndpointSpec struct {
	FromKind *EndpointKind
	ToKind   *EndpointKind
}

func kindPtr(k EndpointKind) *EndpointKind { return &k }

// EndpointSpecFor returns the required endpoint shape of a type.
func EndpointSpecFor(t TransactionType) (EndpointSpec, bool) {
	switch t {
	case TxnDebit:
		return EndpointSpec{FromKind: kindPtr(EndpointAccount)}, true
	case TxnCredit:
		return EndpointSpec{ToKind: kindPtr(EndpointAccount)}, true
	case TxnWalletDebit:
		return EndpointSpec{FromKind: kindPtr(EndpointWallet)}, true
	case TxnWalletCredit:
		return EndpointSpec{ToKind: kindPtr(EndpointWallet)}, true
	case TxnTransfer:
		return EndpointSpec{FromKind: kindPtr(EndpointAccount), ToKind: kindPtr(EndpointAccount)}, true
	case TxnWalletTransfer:
		return EndpointSpec{FromKind: kindPtr(EndpointWallet), ToKind: kindPtr(EndpointWallet)}, true
	case TxnAccountToWallet:
		return EndpointSpec{FromKind: kindPtr(EndpointAccount), ToKind: kindPtr(EndpointWallet)}, true
	case TxnWalletToAccount:
		return EndpointSpec{FromKind: kindPtr(EndpointWallet), ToKind: kindPtr(EndpointAccount)}, true
	}
	return EndpointSpec{}, false
}
