package models

import "time"

// TransactionStatusHistory is the append-only audit trail. Rows are never
// updated or deleted. FromStatus == nil marks the creation transition into
// pending.
type TransactionStatusHistory struct {
	ID            string             `json:"id"`
	TransactionID string             `json:"transaction_id"`
	FromStatus    *TransactionStatus `json:"from_status"`
	ToStatus      TransactionStatus  `json:"to_status"`
	Reason        *string            `json:"reason,omitempty"`
	RetryNumber   *int               `json:"retry_number,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}
