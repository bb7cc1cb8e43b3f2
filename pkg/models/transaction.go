package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDrawdown TransactionType = "drawdown"
	TransactionTypePayment  TransactionType = "payment"
)

// Transaction is one journal entry against a credit: a drawdown
// disbursement or a payment. Detail carries the per-bucket breakdown for
// payments, serialized as JSON in storage.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	CreditID  uuid.UUID       `json:"credit_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	Detail    string          `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
