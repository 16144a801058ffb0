package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditEntry is one row of the credit ledger. Amount is negative for spends.
type CreditEntry struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	Amount    int       `db:"amount"     json:"amount"`
	Operation string    `db:"operation"  json:"operation"`
	Reference string    `db:"reference"  json:"reference"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CreditBalance is the available balance for a user.
type CreditBalance struct {
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	Balance   int       `db:"balance"    json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
