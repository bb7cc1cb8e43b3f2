package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pooledfi/creditbill/pkg/models"
)

// Clock supplies "now" for every billing decision. Production uses the
// UTC wall clock; tests inject a settable fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Treasury executes token movement between the borrower and the pool
// safe. Custody itself lives outside this service; the default
// implementation only records intent in the log.
type Treasury interface {
	Disburse(borrowerKey string, amount decimal.Decimal) error
	Collect(borrowerKey string, amount decimal.Decimal) error
}

type logTreasury struct {
	log *logrus.Logger
}

func (t *logTreasury) Disburse(borrowerKey string, amount decimal.Decimal) error {
	t.log.WithFields(logrus.Fields{"borrower": borrowerKey, "amount": amount.String()}).
		Info("treasury disburse")
	return nil
}

func (t *logTreasury) Collect(borrowerKey string, amount decimal.Decimal) error {
	t.log.WithFields(logrus.Fields{"borrower": borrowerKey, "amount": amount.String()}).
		Info("treasury collect")
	return nil
}

// EventSink receives a structured change record after every mutating
// operation. The ledger never performs I/O for events itself.
type EventSink interface {
	Emit(event models.Event)
}

type logSink struct {
	log *logrus.Logger
}

func (s *logSink) Emit(event models.Event) {
	fields := logrus.Fields{
		"type":      string(event.Type),
		"credit_id": event.CreditID.String(),
		"state":     event.NewRecord.State.String(),
	}
	if event.Amount.Sign() != 0 {
		fields["amount"] = event.Amount.String()
	}
	s.log.WithFields(fields).Info("credit event")
}
