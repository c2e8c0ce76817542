package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finvera/txn-engine/internal/models"
)

type statusHistoryRepo struct{ pool *pgxpool.Pool }

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// appendHistory writes one immutable transition row. It is always called on
// the same pgx.Tx as the status mutation it documents.
func appendHistory(ctx context.Context, q execer, txnID string, from *models.TransactionStatus, to models.TransactionStatus, reason *string, retryNumber *int) error {
	_, err := q.Exec(ctx, `
INSERT INTO transaction_status_history (id, transaction_id, from_status, to_status, reason, retry_number)
VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), txnID, from, to, reason, retryNumber)
	return err
}

func (r *statusHistoryRepo) ListByTransaction(ctx context.Context, txnID string) ([]models.TransactionStatusHistory, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, transaction_id, from_status, to_status, reason, retry_number, created_at
  FROM transaction_status_history
 WHERE transaction_id=$1
 ORDER BY created_at`, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TransactionStatusHistory
	for rows.Next() {
		var h models.TransactionStatusHistory
		if err := rows.Scan(&h.ID, &h.TransactionID, &h.FromStatus, &h.ToStatus, &h.Reason, &h.RetryNumber, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
