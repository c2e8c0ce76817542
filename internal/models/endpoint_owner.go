package models

import "time"

// Account is a core-banking account known to this platform. Intake resolves
// symbolic input (id or account number) against these rows; the gateway is
// still the system of record for balances.
type Account struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Wallet struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
