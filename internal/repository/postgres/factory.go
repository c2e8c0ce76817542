package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/finvera/txn-engine/internal/repository"
)

type Repositories struct {
	Transactions  repo.Transactions
	StatusHistory repo.StatusHistory
	Accounts      repo.Accounts
	Wallets       repo.Wallets
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions:  &transactionsRepo{pool},
		StatusHistory: &statusHistoryRepo{pool},
		Accounts:      &accountsRepo{pool},
		Wallets:       &walletsRepo{pool},
	}
}
