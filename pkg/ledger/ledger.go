// Package ledger orchestrates credit lifecycle operations over a Storage
// implementation. Every borrower-facing action refreshes the billing
// record first, performs its own side effect, then persists and emits one
// event. Mutations on a single credit are serialized by a per-credit
// mutex; different credits proceed in parallel.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pooledfi/creditbill/pkg/models"
	"github.com/pooledfi/creditbill/pkg/refresher"
	"github.com/pooledfi/creditbill/pkg/store"
)

// Ledger handles the business logic for credits and their journal.
type Ledger struct {
	storage  store.Storage
	settings models.PoolSettings
	fees     models.FeeStructure
	clock    Clock
	treasury Treasury
	sink     EventSink
	log      *logrus.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLedger creates a Ledger with a given Storage implementation and the
// pool-wide settings and fee structure. The clock, treasury and event
// sink default to the system clock, a log-only treasury and a log sink;
// tests swap them via the setters.
func NewLedger(s store.Storage, settings models.PoolSettings, fees models.FeeStructure, log *logrus.Logger) *Ledger {
	return &Ledger{
		storage:  s,
		settings: settings,
		fees:     fees,
		clock:    systemClock{},
		treasury: &logTreasury{log: log},
		sink:     &logSink{log: log},
		log:      log,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(c Clock) { l.clock = c }

// SetTreasury replaces the token-movement collaborator.
func (l *Ledger) SetTreasury(t Treasury) { l.treasury = t }

// SetEventSink replaces the event sink.
func (l *Ledger) SetEventSink(s EventSink) { l.sink = s }

// lockCredit acquires the per-credit mutex and returns its release func.
func (l *Ledger) lockCredit(id uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// GetCredit retrieves a credit by its ID.
func (l *Ledger) GetCredit(id uuid.UUID) (*models.Credit, error) {
	return l.storage.GetCredit(id)
}

// GetAllCredits retrieves all credits.
func (l *Ledger) GetAllCredits() ([]*models.Credit, error) {
	return l.storage.GetAllCredits()
}

// GetTransactions retrieves the journal for a credit.
func (l *Ledger) GetTransactions(creditID uuid.UUID) ([]*models.Transaction, error) {
	return l.storage.GetTransactionsForCredit(creditID)
}

// RefreshCredit brings one credit's billing record up to now and persists
// it if anything changed.
func (l *Ledger) RefreshCredit(id uuid.UUID) (*models.Credit, error) {
	unlock := l.lockCredit(id)
	defer unlock()

	credit, err := l.storage.GetCredit(id)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	old := credit.Record
	res := l.refresh(credit, now)
	if !res.Changed {
		return credit, nil
	}

	credit.UpdatedAt = now
	if err := l.storage.UpdateCredit(credit); err != nil {
		return nil, err
	}
	l.sink.Emit(models.Event{
		Type:      models.EventRefreshed,
		CreditID:  credit.ID,
		Timestamp: now,
		OldRecord: old,
		NewRecord: credit.Record,
	})
	return credit, nil
}

// RefreshAll sweeps every open credit. Failures on individual credits are
// logged and do not abort the sweep.
func (l *Ledger) RefreshAll() {
	credits, err := l.storage.GetOpenCredits()
	if err != nil {
		l.log.WithError(err).Error("refresh sweep: listing open credits")
		return
	}
	for _, credit := range credits {
		if _, err := l.RefreshCredit(credit.ID); err != nil {
			l.log.WithError(err).WithField("credit_id", credit.ID).Error("refresh sweep: credit refresh failed")
		}
	}
}

// refresh applies the refresher to the in-memory credit and returns its
// result. The caller persists.
func (l *Ledger) refresh(credit *models.Credit, now time.Time) refresher.Result {
	res := refresher.Refresh(refresher.Input{
		Config:   credit.Config,
		Record:   credit.Record,
		Due:      credit.Due,
		Settings: l.settings,
		Fees:     l.fees,
	}, now)
	if res.Truncated {
		l.log.WithField("credit_id", credit.ID).Debug("refresh stopped at maturity")
	}
	credit.Record = res.Record
	credit.Due = res.Due
	return res
}
