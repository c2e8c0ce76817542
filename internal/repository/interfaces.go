package repository

import (
	"context"
	"errors"
	"time"

	"github.com/finvera/txn-engine/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateReference signals a unique violation on transactions.reference.
	// Intake treats it as "mint a new reference and retry".
	ErrDuplicateReference = errors.New("duplicate reference")
	// ErrReversalExists means a compensating transaction for the same
	// original was created concurrently.
	ErrReversalExists = errors.New("reversal already exists")
)

type ListFilter struct {
	Status    *models.TransactionStatus
	AccountID *string
	WalletID  *string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// CompletionUpdate carries everything a successful gateway call produces.
type CompletionUpdate struct {
	CoreBankingRef string
	RawRequest     []byte
	RawResponse    []byte
	CompletedAt    time.Time
}

// FailureUpdate carries a failed attempt's bookkeeping. NextRetryAt nil means
// the failure is permanent.
type FailureUpdate struct {
	RetryCount   int
	ErrorCode    string
	ErrorMessage string
	RawRequest   []byte
	RawResponse  []byte
	NextRetryAt  *time.Time
	LastRetryAt  *time.Time
}

type Transactions interface {
	// Create persists a new pending transaction together with its initial
	// (start->pending) history row in one database transaction.
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetByReference(ctx context.Context, ref string) (models.Transaction, error)

	// ClaimDue atomically flips due rows to processing and returns only the
	// rows it claimed: up to limit pending rows oldest-first plus up to
	// limit failed rows whose next_retry_at has elapsed, so a pending
	// backlog never starves scheduled retries. Claiming clears next_retry_at.
	// Safe against a concurrent claimer.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]models.Transaction, error)
	// ClaimOne is the single-row variant; ok=false means the row was not in
	// a claimable state.
	ClaimOne(ctx context.Context, id string, now time.Time) (models.Transaction, bool, error)

	MarkCompleted(ctx context.Context, id string, upd CompletionUpdate) error
	MarkFailedRetry(ctx context.Context, id string, upd FailureUpdate) error
	MarkFailedPermanent(ctx context.Context, id string, upd FailureUpdate) error

	// AnnotateReversal sets reversal_reason on a completed original. The
	// status is left untouched.
	AnnotateReversal(ctx context.Context, id, reason string) error
	FindReversalOf(ctx context.Context, originalID string) (models.Transaction, bool, error)

	List(ctx context.Context, f ListFilter) ([]models.Transaction, error)
}

type StatusHistory interface {
	ListByTransaction(ctx context.Context, txnID string) ([]models.TransactionStatusHistory, error)
}

type Accounts interface {
	// Resolve accepts an account id or an account number.
	Resolve(ctx context.Context, idOrNumber string) (models.Account, error)
}

type Wallets interface {
	Resolve(ctx context.Context, idOrNumber string) (models.Wallet, error)
}
