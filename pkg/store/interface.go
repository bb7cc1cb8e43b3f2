package store

import (
	"github.com/google/uuid"

	"github.com/pooledfi/creditbill/pkg/models"
)

// Storage defines the interface for database operations related to
// credits and their transaction journal.
type Storage interface {
	CreateCredit(credit *models.Credit) error
	GetCredit(id uuid.UUID) (*models.Credit, error)
	UpdateCredit(credit *models.Credit) error
	GetAllCredits() ([]*models.Credit, error)
	// GetOpenCredits returns credits the refresh sweep should visit:
	// those in good standing or delayed.
	GetOpenCredits() ([]*models.Credit, error)

	// UpdateCreditWithJournal updates a credit and appends a journal
	// entry atomically: on failure neither half is applied.
	UpdateCreditWithJournal(credit *models.Credit, transaction *models.Transaction) error

	CreateTransaction(transaction *models.Transaction) error
	GetTransactionsForCredit(creditID uuid.UUID) ([]*models.Transaction, error)

	Close() error
}
