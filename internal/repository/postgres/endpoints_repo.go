package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finvera/txn-engine/internal/models"
	repo "github.com/finvera/txn-engine/internal/repository"
)

type accountsRepo struct{ pool *pgxpool.Pool }

func (r *accountsRepo) Resolve(ctx context.Context, idOrNumber string) (models.Account, error) {
	q := `SELECT id, number, owner_id, currency, active, created_at FROM accounts WHERE `
	if _, err := uuid.Parse(idOrNumber); err == nil {
		q += `id=$1`
	} else {
		q += `number=$1`
	}
	var a models.Account
	err := r.pool.QueryRow(ctx, q, idOrNumber).Scan(&a.ID, &a.Number, &a.OwnerID, &a.Currency, &a.Active, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, repo.ErrNotFound
	}
	return a, err
}

type walletsRepo struct{ pool *pgxpool.Pool }

func (r *walletsRepo) Resolve(ctx context.Context, idOrNumber string) (models.Wallet, error) {
	q := `SELECT id, number, owner_id, currency, active, created_at FROM wallets WHERE `
	if _, err := uuid.Parse(idOrNumber); err == nil {
		q += `id=$1`
	} else {
		q += `number=$1`
	}
	var w models.Wallet
	err := r.pool.QueryRow(ctx, q, idOrNumber).Scan(&w.ID, &w.Number, &w.OwnerID, &w.Currency, &w.Active, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, repo.ErrNotFound
	}
	return w, err
}
