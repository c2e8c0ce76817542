package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finvera/txn-engine/internal/models"
	repo "github.com/finvera/txn-engine/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txnCols = `id, reference, type, source, status, amount, currency, description,
 from_account_id, from_wallet_id, to_account_id, to_wallet_id,
 core_banking_ref, gateway_request, gateway_response,
 retry_count, max_retries, next_retry_at, last_retry_at,
 error_code, error_message,
 is_reversal, original_txn_id, reversal_reason,
 created_at, updated_at, completed_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanTxn(row rowScanner) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.Reference, &t.Type, &t.Source, &t.Status, &t.Amount, &t.Currency, &t.Description,
		&t.FromAccountID, &t.FromWalletID, &t.ToAccountID, &t.ToWalletID,
		&t.CoreBankingRef, &t.GatewayRequest, &t.GatewayResponse,
		&t.RetryCount, &t.MaxRetries, &t.NextRetryAt, &t.LastRetryAt,
		&t.ErrorCode, &t.ErrorMessage,
		&t.IsReversal, &t.OriginalTxnID, &t.ReversalReason,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	return t, err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func (r *transactionsRepo) Create(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
INSERT INTO transactions (
  id, reference, type, source, status, amount, currency, description,
  from_account_id, from_wallet_id, to_account_id, to_wallet_id,
  retry_count, max_retries, is_reversal, original_txn_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
RETURNING ` + txnCols
	created, err := scanTxn(tx.QueryRow(ctx, q,
		t.ID, t.Reference, t.Type, t.Source, models.TxnPending, t.Amount, t.Currency, t.Description,
		t.FromAccountID, t.FromWalletID, t.ToAccountID, t.ToWalletID,
		0, t.MaxRetries, t.IsReversal, t.OriginalTxnID,
	))
	if err != nil {
		if isUniqueViolation(err, "transactions_reference_key") {
			return models.Transaction{}, repo.ErrDuplicateReference
		}
		if isUniqueViolation(err, "idx_txn_one_reversal") {
			return models.Transaction{}, repo.ErrReversalExists
		}
		return models.Transaction{}, err
	}

	if err := appendHistory(ctx, tx, created.ID, nil, models.TxnPending, strPtr("created"), nil); err != nil {
		return models.Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Transaction{}, err
	}
	return created, nil
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	t, err := scanTxn(r.pool.QueryRow(ctx, `SELECT `+txnCols+` FROM transactions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return t, err
}

func (r *transactionsRepo) GetByReference(ctx context.Context, ref string) (models.Transaction, error) {
	t, err := scanTxn(r.pool.QueryRow(ctx, `SELECT `+txnCols+` FROM transactions WHERE reference=$1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return t, err
}

var claimPendingQ = `
WITH due AS (
  SELECT id FROM transactions
   WHERE status='pending'
   ORDER BY created_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
)
UPDATE transactions AS t
   SET status='processing', next_retry_at=NULL, updated_at=now()
  FROM due
 WHERE t.id = due.id
RETURNING ` + prefixCols("t.")

var claimRetryQ = `
WITH due AS (
  SELECT id FROM transactions
   WHERE status='failed' AND retry_count < max_retries AND next_retry_at <= $2
   ORDER BY next_retry_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
)
UPDATE transactions AS t
   SET status='processing', next_retry_at=NULL, updated_at=now()
  FROM due
 WHERE t.id = due.id
RETURNING ` + prefixCols("t.")

// ClaimDue flips due rows to processing and returns only what it claimed:
// up to limit pending rows plus up to limit retry-due rows, so a pending
// backlog never starves scheduled retries. SKIP LOCKED keeps two claimers
// from ever returning the same row.
func (r *transactionsRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]models.Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pending, err := claimBucket(ctx, tx, claimPendingQ, []any{limit})
	if err != nil {
		return nil, err
	}
	retries, err := claimBucket(ctx, tx, claimRetryQ, []any{limit, now})
	if err != nil {
		return nil, err
	}

	fromPending := models.TxnPending
	for _, t := range pending {
		if err := appendHistory(ctx, tx, t.ID, &fromPending, models.TxnProcessing, strPtr("claimed"), nil); err != nil {
			return nil, err
		}
	}
	fromFailed := models.TxnFailed
	for _, t := range retries {
		n := t.RetryCount
		if err := appendHistory(ctx, tx, t.ID, &fromFailed, models.TxnProcessing, strPtr("retry pick-up"), &n); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return append(pending, retries...), nil
}

func claimBucket(ctx context.Context, tx pgx.Tx, q string, args []any) ([]models.Transaction, error) {
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *transactionsRepo) ClaimOne(ctx context.Context, id string, now time.Time) (models.Transaction, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Transaction{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanTxn(tx.QueryRow(ctx, `SELECT `+txnCols+` FROM transactions WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, false, repo.ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, false, err
	}

	claimable := cur.Status == models.TxnPending ||
		(cur.Status == models.TxnFailed && cur.RetryCount < cur.MaxRetries &&
			cur.NextRetryAt != nil && !cur.NextRetryAt.After(now))
	if !claimable {
		return models.Transaction{}, false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions SET status='processing', next_retry_at=NULL, updated_at=now() WHERE id=$1`, id); err != nil {
		return models.Transaction{}, false, err
	}
	from := cur.Status
	var retryNum *int
	reason := "claimed"
	if from == models.TxnFailed {
		reason = "retry pick-up"
		n := cur.RetryCount
		retryNum = &n
	}
	if err := appendHistory(ctx, tx, id, &from, models.TxnProcessing, &reason, retryNum); err != nil {
		return models.Transaction{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Transaction{}, false, err
	}
	cur.Status = models.TxnProcessing
	cur.NextRetryAt = nil
	return cur, true, nil
}

func (r *transactionsRepo) MarkCompleted(ctx context.Context, id string, upd repo.CompletionUpdate) error {
	return r.transition(ctx, id, func(tx pgx.Tx, from models.TransactionStatus) error {
		_, err := tx.Exec(ctx, `
UPDATE transactions
   SET status='completed', core_banking_ref=$2, gateway_request=$3, gateway_response=$4,
       error_code=NULL, error_message=NULL, next_retry_at=NULL,
       completed_at=$5, updated_at=now()
 WHERE id=$1`,
			id, upd.CoreBankingRef, upd.RawRequest, upd.RawResponse, upd.CompletedAt)
		if err != nil {
			return err
		}
		return appendHistory(ctx, tx, id, &from, models.TxnCompleted, nil, nil)
	})
}

func (r *transactionsRepo) MarkFailedRetry(ctx context.Context, id string, upd repo.FailureUpdate) error {
	return r.transition(ctx, id, func(tx pgx.Tx, from models.TransactionStatus) error {
		_, err := tx.Exec(ctx, `
UPDATE transactions
   SET status='failed', retry_count=$2, next_retry_at=$3, last_retry_at=$4,
       error_code=$5, error_message=$6, gateway_request=$7, gateway_response=$8,
       updated_at=now()
 WHERE id=$1`,
			id, upd.RetryCount, upd.NextRetryAt, upd.LastRetryAt,
			upd.ErrorCode, upd.ErrorMessage, upd.RawRequest, upd.RawResponse)
		if err != nil {
			return err
		}
		n := upd.RetryCount
		return appendHistory(ctx, tx, id, &from, models.TxnFailed, strPtr(upd.ErrorMessage), &n)
	})
}

func (r *transactionsRepo) MarkFailedPermanent(ctx context.Context, id string, upd repo.FailureUpdate) error {
	return r.transition(ctx, id, func(tx pgx.Tx, from models.TransactionStatus) error {
		_, err := tx.Exec(ctx, `
UPDATE transactions
   SET status='failed_permanent', retry_count=$2, next_retry_at=NULL, last_retry_at=COALESCE($3, last_retry_at),
       error_code=$4, error_message=$5, gateway_request=$6, gateway_response=$7,
       updated_at=now()
 WHERE id=$1`,
			id, upd.RetryCount, upd.LastRetryAt,
			upd.ErrorCode, upd.ErrorMessage, upd.RawRequest, upd.RawResponse)
		if err != nil {
			return err
		}
		var retryNum *int
		if upd.RetryCount > 0 {
			n := upd.RetryCount
			retryNum = &n
		}
		return appendHistory(ctx, tx, id, &from, models.TxnFailedPermanent, strPtr(upd.ErrorMessage), retryNum)
	})
}

// transition runs a status mutation plus its history append in one database
// transaction, handing the callback the row's current status.
func (r *transactionsRepo) transition(ctx context.Context, id string, fn func(tx pgx.Tx, from models.TransactionStatus) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from models.TransactionStatus
	err = tx.QueryRow(ctx, `SELECT status FROM transactions WHERE id=$1 FOR UPDATE`, id).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := fn(tx, from); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *transactionsRepo) AnnotateReversal(ctx context.Context, id, reason string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE transactions SET reversal_reason=$2, updated_at=now()
 WHERE id=$1 AND status='completed'`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *transactionsRepo) FindReversalOf(ctx context.Context, originalID string) (models.Transaction, bool, error) {
	t, err := scanTxn(r.pool.QueryRow(ctx,
		`SELECT `+txnCols+` FROM transactions WHERE original_txn_id=$1 AND is_reversal`, originalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, false, nil
	}
	if err != nil {
		return models.Transaction{}, false, err
	}
	return t, true, nil
}

func (r *transactionsRepo) List(ctx context.Context, f repo.ListFilter) ([]models.Transaction, error) {
	q := `SELECT ` + txnCols + ` FROM transactions WHERE 1=1`
	var args []any
	arg := func(v any) string { args = append(args, v); return "$" + strconv.Itoa(len(args)) }

	if f.Status != nil {
		q += ` AND status=` + arg(*f.Status)
	}
	if f.AccountID != nil {
		p := arg(*f.AccountID)
		q += fmt.Sprintf(` AND (from_account_id=%s OR to_account_id=%s)`, p, p)
	}
	if f.WalletID != nil {
		p := arg(*f.WalletID)
		q += fmt.Sprintf(` AND (from_wallet_id=%s OR to_wallet_id=%s)`, p, p)
	}
	if f.From != nil {
		q += ` AND created_at >= ` + arg(*f.From)
	}
	if f.To != nil {
		q += ` AND created_at < ` + arg(*f.To)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += ` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func strPtr(s string) *string { return &s }

func prefixCols(p string) string {
	return p + `id, ` + p + `reference, ` + p + `type, ` + p + `source, ` + p + `status, ` + p + `amount, ` + p + `currency, ` + p + `description,
 ` + p + `from_account_id, ` + p + `from_wallet_id, ` + p + `to_account_id, ` + p + `to_wallet_id,
 ` + p + `core_banking_ref, ` + p + `gateway_request, ` + p + `gateway_response,
 ` + p + `retry_count, ` + p + `max_retries, ` + p + `next_retry_at, ` + p + `last_retry_at,
 ` + p + `error_code, ` + p + `error_message,
 ` + p + `is_reversal, ` + p + `original_txn_id, ` + p + `reversal_reason,
 ` + p + `created_at, ` + p + `updated_at, ` + p + `completed_at`
}
