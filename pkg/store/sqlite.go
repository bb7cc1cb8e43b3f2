package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pooledfi/creditbill/pkg/apperrors"
	"github.com/pooledfi/creditbill/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Println("Database connection established and schema initialized.")
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		borrower_key TEXT NOT NULL,
		state TEXT NOT NULL,
		credit_limit TEXT NOT NULL,
		committed_amount TEXT NOT NULL DEFAULT '0',
		period_duration TEXT NOT NULL,
		num_of_periods INTEGER NOT NULL,
		yield_bps INTEGER NOT NULL,
		revolving INTEGER NOT NULL DEFAULT 0,
		receivable_backed INTEGER NOT NULL DEFAULT 0,
		borrower_level_credit INTEGER NOT NULL DEFAULT 0,
		exclusive INTEGER NOT NULL DEFAULT 0,
		unbilled_principal TEXT NOT NULL DEFAULT '0',
		next_due_date DATETIME,
		next_due TEXT NOT NULL DEFAULT '0',
		yield_due TEXT NOT NULL DEFAULT '0',
		total_past_due TEXT NOT NULL DEFAULT '0',
		missed_periods INTEGER NOT NULL DEFAULT 0,
		remaining_periods INTEGER NOT NULL DEFAULT 0,
		late_fee_updated_date DATETIME,
		late_fee TEXT NOT NULL DEFAULT '0',
		principal_past_due TEXT NOT NULL DEFAULT '0',
		yield_past_due TEXT NOT NULL DEFAULT '0',
		committed_yield TEXT NOT NULL DEFAULT '0',
		accrued_yield TEXT NOT NULL DEFAULT '0',
		paid_yield TEXT NOT NULL DEFAULT '0',
		maturity_date DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(credit_id) REFERENCES credits(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const creditColumns = `id, borrower_key, state, credit_limit, committed_amount, period_duration,
	num_of_periods, yield_bps, revolving, receivable_backed, borrower_level_credit, exclusive,
	unbilled_principal, next_due_date, next_due, yield_due, total_past_due, missed_periods,
	remaining_periods, late_fee_updated_date, late_fee, principal_past_due, yield_past_due,
	committed_yield, accrued_yield, paid_yield, maturity_date, created_at, updated_at`

// CreateCredit inserts a new credit into the database.
func (s *SQLiteStore) CreateCredit(credit *models.Credit) error {
	_, err := s.db.Exec(
		`INSERT INTO credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credit.ID.String(), credit.BorrowerKey, credit.Record.State.String(),
		credit.Config.CreditLimit, credit.Config.CommittedAmount, credit.Config.PeriodDuration.String(),
		credit.Config.NumOfPeriods, credit.Config.YieldBps,
		credit.Config.Revolving, credit.Config.ReceivableBacked,
		credit.Config.BorrowerLevelCredit, credit.Config.Exclusive,
		credit.Record.UnbilledPrincipal, nullTime(credit.Record.NextDueDate),
		credit.Record.NextDue, credit.Record.YieldDue, credit.Record.TotalPastDue,
		credit.Record.MissedPeriods, credit.Record.RemainingPeriods,
		nullTime(credit.Due.LateFeeUpdatedDate), credit.Due.LateFee,
		credit.Due.PrincipalPastDue, credit.Due.YieldPastDue,
		credit.Due.Committed, credit.Due.Accrued, credit.Due.Paid,
		nullTime(credit.MaturityDate), credit.CreatedAt, credit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credit: %w", err)
	}
	return nil
}

// GetCredit retrieves a credit by its ID.
func (s *SQLiteStore) GetCredit(id uuid.UUID) (*models.Credit, error) {
	row := s.db.QueryRow(`SELECT `+creditColumns+` FROM credits WHERE id = ?`, id.String())
	credit, err := scanCredit(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credit: %w", err)
	}
	return credit, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpdateCredit updates an existing credit in the database.
func (s *SQLiteStore) UpdateCredit(credit *models.Credit) error {
	return updateCredit(s.db, credit)
}

func updateCredit(e execer, credit *models.Credit) error {
	result, err := e.Exec(
		`UPDATE credits SET borrower_key = ?, state = ?, credit_limit = ?, committed_amount = ?,
		period_duration = ?, num_of_periods = ?, yield_bps = ?, revolving = ?,
		receivable_backed = ?, borrower_level_credit = ?, exclusive = ?,
		unbilled_principal = ?, next_due_date = ?, next_due = ?, yield_due = ?,
		total_past_due = ?, missed_periods = ?, remaining_periods = ?,
		late_fee_updated_date = ?, late_fee = ?, principal_past_due = ?, yield_past_due = ?,
		committed_yield = ?, accrued_yield = ?, paid_yield = ?, maturity_date = ?, updated_at = ?
		WHERE id = ?`,
		credit.BorrowerKey, credit.Record.State.String(),
		credit.Config.CreditLimit, credit.Config.CommittedAmount, credit.Config.PeriodDuration.String(),
		credit.Config.NumOfPeriods, credit.Config.YieldBps,
		credit.Config.Revolving, credit.Config.ReceivableBacked,
		credit.Config.BorrowerLevelCredit, credit.Config.Exclusive,
		credit.Record.UnbilledPrincipal, nullTime(credit.Record.NextDueDate),
		credit.Record.NextDue, credit.Record.YieldDue, credit.Record.TotalPastDue,
		credit.Record.MissedPeriods, credit.Record.RemainingPeriods,
		nullTime(credit.Due.LateFeeUpdatedDate), credit.Due.LateFee,
		credit.Due.PrincipalPastDue, credit.Due.YieldPastDue,
		credit.Due.Committed, credit.Due.Accrued, credit.Due.Paid,
		nullTime(credit.MaturityDate), credit.UpdatedAt, credit.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// GetAllCredits retrieves all credits.
func (s *SQLiteStore) GetAllCredits() ([]*models.Credit, error) {
	rows, err := s.db.Query(`SELECT ` + creditColumns + ` FROM credits`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all credits: %w", err)
	}
	defer rows.Close()

	return scanCredits(rows)
}

// GetOpenCredits retrieves credits the refresh sweep should visit.
func (s *SQLiteStore) GetOpenCredits() ([]*models.Credit, error) {
	rows, err := s.db.Query(`SELECT ` + creditColumns + ` FROM credits WHERE state IN ('good_standing', 'delayed')`)
	if err != nil {
		return nil, fmt.Errorf("failed to get open credits: %w", err)
	}
	defer rows.Close()

	return scanCredits(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredit(row rowScanner) (*models.Credit, error) {
	var credit models.Credit
	var idStr, stateStr, durationStr string
	var nextDueDate, lateFeeUpdated, maturity sql.NullTime
	var created, updated time.Time

	err := row.Scan(
		&idStr, &credit.BorrowerKey, &stateStr,
		&credit.Config.CreditLimit, &credit.Config.CommittedAmount, &durationStr,
		&credit.Config.NumOfPeriods, &credit.Config.YieldBps,
		&credit.Config.Revolving, &credit.Config.ReceivableBacked,
		&credit.Config.BorrowerLevelCredit, &credit.Config.Exclusive,
		&credit.Record.UnbilledPrincipal, &nextDueDate,
		&credit.Record.NextDue, &credit.Record.YieldDue, &credit.Record.TotalPastDue,
		&credit.Record.MissedPeriods, &credit.Record.RemainingPeriods,
		&lateFeeUpdated, &credit.Due.LateFee,
		&credit.Due.PrincipalPastDue, &credit.Due.YieldPastDue,
		&credit.Due.Committed, &credit.Due.Accrued, &credit.Due.Paid,
		&maturity, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	credit.ID = uuid.MustParse(idStr)
	state, ok := models.ParseCreditState(stateStr)
	if !ok {
		return nil, fmt.Errorf("%w: unknown credit state %q in row %s", apperrors.ErrInternal, stateStr, idStr)
	}
	credit.Record.State = state
	duration, ok := models.ParsePeriodDuration(durationStr)
	if !ok {
		return nil, fmt.Errorf("%w: unknown period duration %q in row %s", apperrors.ErrInternal, durationStr, idStr)
	}
	credit.Config.PeriodDuration = duration
	if nextDueDate.Valid {
		credit.Record.NextDueDate = nextDueDate.Time.UTC()
	}
	if lateFeeUpdated.Valid {
		credit.Due.LateFeeUpdatedDate = lateFeeUpdated.Time.UTC()
	}
	if maturity.Valid {
		credit.MaturityDate = maturity.Time.UTC()
	}
	credit.CreatedAt = created
	credit.UpdatedAt = updated
	return &credit, nil
}

func scanCredits(rows *sql.Rows) ([]*models.Credit, error) {
	var credits []*models.Credit
	for rows.Next() {
		credit, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit row: %w", err)
		}
		credits = append(credits, credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return credits, nil
}

// UpdateCreditWithJournal updates a credit and appends a journal entry in
// a single database transaction, so a failure in either statement leaves
// both tables untouched.
func (s *SQLiteStore) UpdateCreditWithJournal(credit *models.Credit, transaction *models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := updateCredit(tx, credit); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertTransaction(tx, transaction); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateTransaction inserts a new transaction into the database.
func (s *SQLiteStore) CreateTransaction(transaction *models.Transaction) error {
	return insertTransaction(s.db, transaction)
}

func insertTransaction(e execer, transaction *models.Transaction) error {
	_, err := e.Exec(
		`INSERT INTO transactions (id, credit_id, amount, type, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		transaction.ID.String(), transaction.CreditID.String(), transaction.Amount,
		transaction.Type, transaction.Detail, transaction.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransactionsForCredit retrieves all transactions for a given credit ID.
func (s *SQLiteStore) GetTransactionsForCredit(creditID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.db.Query(`SELECT id, credit_id, amount, type, detail, timestamp FROM transactions WHERE credit_id = ? ORDER BY timestamp ASC`, creditID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for credit %s: %w", creditID, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var transaction models.Transaction
		var txIDStr, creditIDStr string
		var timestamp time.Time
		if err := rows.Scan(&txIDStr, &creditIDStr, &transaction.Amount, &transaction.Type, &transaction.Detail, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transaction.ID = uuid.MustParse(txIDStr)
		transaction.CreditID = uuid.MustParse(creditIDStr)
		transaction.Timestamp = timestamp
		transactions = append(transactions, &transaction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for credit transactions: %w", err)
	}
	return transactions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
