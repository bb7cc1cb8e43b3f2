package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pooledfi/creditbill/pkg/apperrors"
	"github.com/pooledfi/creditbill/pkg/feemath"
	"github.com/pooledfi/creditbill/pkg/models"
)

// MockStore is a simple in-memory implementation of the Storage interface
// for testing.
type MockStore struct {
	credits      map[uuid.UUID]*models.Credit
	transactions []*models.Transaction
}

func NewMockStore() *MockStore {
	return &MockStore{
		credits:      make(map[uuid.UUID]*models.Credit),
		transactions: []*models.Transaction{},
	}
}

func (m *MockStore) CreateCredit(c *models.Credit) error {
	copied := *c
	m.credits[c.ID] = &copied
	return nil
}

func (m *MockStore) GetCredit(id uuid.UUID) (*models.Credit, error) {
	c, ok := m.credits[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *MockStore) UpdateCredit(c *models.Credit) error {
	if _, ok := m.credits[c.ID]; !ok {
		return apperrors.ErrNotFound
	}
	copied := *c
	m.credits[c.ID] = &copied
	return nil
}

func (m *MockStore) UpdateCreditWithJournal(c *models.Credit, tx *models.Transaction) error {
	if err := m.UpdateCredit(c); err != nil {
		return err
	}
	return m.CreateTransaction(tx)
}

func (m *MockStore) GetAllCredits() ([]*models.Credit, error) {
	credits := []*models.Credit{}
	for _, c := range m.credits {
		credits = append(credits, c)
	}
	return credits, nil
}

func (m *MockStore) GetOpenCredits() ([]*models.Credit, error) {
	credits := []*models.Credit{}
	for _, c := range m.credits {
		if c.Record.State == models.StateGoodStanding || c.Record.State == models.StateDelayed {
			credits = append(credits, c)
		}
	}
	return credits, nil
}

func (m *MockStore) CreateTransaction(tx *models.Transaction) error {
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *MockStore) GetTransactionsForCredit(creditID uuid.UUID) ([]*models.Transaction, error) {
	txs := []*models.Transaction{}
	for _, tx := range m.transactions {
		if tx.CreditID == creditID {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (m *MockStore) Close() error { return nil }

// fakeClock is a settable Clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time  { return c.now }
func (c *fakeClock) Set(t time.Time) { c.now = t }

// captureSink records emitted events.
type captureSink struct {
	events []models.Event
}

func (s *captureSink) Emit(e models.Event) { s.events = append(s.events, e) }

// recordingTreasury tallies disbursed and collected amounts.
type recordingTreasury struct {
	disbursed decimal.Decimal
	collected decimal.Decimal
}

func (t *recordingTreasury) Disburse(_ string, amount decimal.Decimal) error {
	t.disbursed = t.disbursed.Add(amount)
	return nil
}

func (t *recordingTreasury) Collect(_ string, amount decimal.Decimal) error {
	t.collected = t.collected.Add(amount)
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testSettings() models.PoolSettings {
	return models.PoolSettings{
		LatePaymentGracePeriodDays: 5,
		DefaultGracePeriodMonths:   3,
		MaxCreditLine:              decimal.NewFromInt(10_000_000),
		PeriodDuration:             models.PeriodMonthly,
	}
}

func testFees() models.FeeStructure {
	return models.FeeStructure{
		LateFeeFlat:         decimal.NewFromInt(100),
		LateFeeBps:          500,
		MembershipFee:       decimal.Zero,
		MinPrincipalRateBps: 0,
		FrontLoadingFeeFlat: decimal.Zero,
		FrontLoadingFeeBps:  0,
	}
}

type harness struct {
	ledger   *Ledger
	store    *MockStore
	clock    *fakeClock
	sink     *captureSink
	treasury *recordingTreasury
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	h := &harness{
		store:    NewMockStore(),
		clock:    &fakeClock{now: date(2024, time.January, 10)},
		sink:     &captureSink{},
		treasury: &recordingTreasury{disbursed: decimal.Zero, collected: decimal.Zero},
	}
	h.ledger = NewLedger(h.store, testSettings(), testFees(), log)
	h.ledger.SetClock(h.clock)
	h.ledger.SetEventSink(h.sink)
	h.ledger.SetTreasury(h.treasury)
	return h
}

func approveParams() ApproveParams {
	return ApproveParams{
		BorrowerKey:    "borrower-1",
		CreditLimit:    decimal.NewFromInt(5_000_000),
		PeriodDuration: models.PeriodMonthly,
		NumOfPeriods:   5,
		YieldBps:       1200,
		Revolving:      true,
	}
}

func TestApprove(t *testing.T) {
	h := newHarness(t)

	credit, err := h.ledger.Approve(approveParams())
	if err != nil {
		t.Fatalf("Failed to approve credit: %v", err)
	}
	if credit.Record.State != models.StateApproved {
		t.Errorf("Expected approved state, got %s", credit.Record.State)
	}
	if credit.Record.RemainingPeriods != 5 {
		t.Errorf("Expected 5 remaining periods, got %d", credit.Record.RemainingPeriods)
	}
	if len(h.sink.events) != 1 || h.sink.events[0].Type != models.EventApproved {
		t.Errorf("Expected one approval event, got %v", h.sink.events)
	}
}

func TestApprove_Validation(t *testing.T) {
	h := newHarness(t)

	cases := map[string]func(*ApproveParams){
		"empty borrower":  func(p *ApproveParams) { p.BorrowerKey = "" },
		"zero limit":      func(p *ApproveParams) { p.CreditLimit = decimal.Zero },
		"zero periods":    func(p *ApproveParams) { p.NumOfPeriods = 0 },
		"committed>limit": func(p *ApproveParams) { p.CommittedAmount = decimal.NewFromInt(6_000_000) },
		"above pool max":  func(p *ApproveParams) { p.CreditLimit = decimal.NewFromInt(20_000_000) },
		"negative yield":  func(p *ApproveParams) { p.YieldBps = -1 },
	}
	for name, mutate := range cases {
		p := approveParams()
		mutate(&p)
		if _, err := h.ledger.Approve(p); !errors.Is(err, apperrors.ErrInvalidParameter) {
			t.Errorf("%s: expected ErrInvalidParameter, got %v", name, err)
		}
	}
}

func TestReapprove(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())

	p := approveParams()
	p.CreditLimit = decimal.NewFromInt(2_000_000)
	updated, err := h.ledger.Reapprove(credit.ID, p)
	if err != nil {
		t.Fatalf("Failed to re-approve: %v", err)
	}
	if !updated.Config.CreditLimit.Equal(p.CreditLimit) {
		t.Errorf("Expected limit %s, got %s", p.CreditLimit, updated.Config.CreditLimit)
	}

	// After a drawdown re-approval is rejected.
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(100_000))
	if _, err := h.ledger.Reapprove(credit.ID, p); !errors.Is(err, apperrors.ErrNotInState) {
		t.Errorf("Expected ErrNotInState after drawdown, got %v", err)
	}
}

func TestDrawdown_First(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())

	amount := decimal.NewFromInt(1_000_000)
	updated, tx, err := h.ledger.Drawdown(credit.ID, amount)
	if err != nil {
		t.Fatalf("Failed to draw down: %v", err)
	}

	if updated.Record.State != models.StateGoodStanding {
		t.Errorf("Expected good standing, got %s", updated.Record.State)
	}
	// January 10 -> due February 1, a 22 day partial period.
	if want := date(2024, time.February, 1); !updated.Record.NextDueDate.Equal(want) {
		t.Errorf("Expected next due date %v, got %v", want, updated.Record.NextDueDate)
	}
	wantYield := feemath.ProratedYield(amount, 1200, 22)
	if !updated.Record.NextDue.Equal(wantYield) {
		t.Errorf("Expected first bill %s, got %s", wantYield, updated.Record.NextDue)
	}
	if updated.Record.RemainingPeriods != 4 {
		t.Errorf("Expected 4 remaining periods, got %d", updated.Record.RemainingPeriods)
	}
	// Maturity: 5 period starts from January 10 lands on June 1.
	if want := date(2024, time.June, 1); !updated.MaturityDate.Equal(want) {
		t.Errorf("Expected maturity %v, got %v", want, updated.MaturityDate)
	}
	if !updated.Record.UnbilledPrincipal.Equal(amount) {
		t.Errorf("Expected unbilled %s, got %s", amount, updated.Record.UnbilledPrincipal)
	}
	if !h.treasury.disbursed.Equal(amount) {
		t.Errorf("Expected %s disbursed, got %s", amount, h.treasury.disbursed)
	}
	if tx.Type != models.TransactionTypeDrawdown || !tx.Amount.Equal(amount) {
		t.Errorf("Unexpected journal entry: %+v", tx)
	}
}

func TestDrawdown_FrontLoadingFee(t *testing.T) {
	h := newHarness(t)
	fees := testFees()
	fees.FrontLoadingFeeFlat = decimal.NewFromInt(5)
	fees.FrontLoadingFeeBps = 500
	h.ledger.fees = fees

	credit, _ := h.ledger.Approve(approveParams())
	_, _, err := h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("Failed to draw down: %v", err)
	}

	// fee = 5 + 1000*500/10000 = 55; borrower nets 945.
	if want := decimal.NewFromInt(945); !h.treasury.disbursed.Equal(want) {
		t.Errorf("Expected net disbursement %s, got %s", want, h.treasury.disbursed)
	}
	stored, _ := h.store.GetCredit(credit.ID)
	if want := decimal.NewFromInt(945); !stored.Record.UnbilledPrincipal.Equal(want) {
		t.Errorf("Expected unbilled %s, got %s", want, stored.Record.UnbilledPrincipal)
	}
}

func TestDrawdown_Validation(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())

	if _, _, err := h.ledger.Drawdown(credit.ID, decimal.Zero); !errors.Is(err, apperrors.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for zero amount, got %v", err)
	}
	if _, _, err := h.ledger.Drawdown(credit.ID, decimal.NewFromInt(6_000_000)); !errors.Is(err, apperrors.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter above limit, got %v", err)
	}

	// Non-revolving credits only draw once.
	p := approveParams()
	p.Revolving = false
	single, _ := h.ledger.Approve(p)
	h.ledger.Drawdown(single.ID, decimal.NewFromInt(100_000))
	if _, _, err := h.ledger.Drawdown(single.ID, decimal.NewFromInt(100_000)); !errors.Is(err, apperrors.ErrNotInState) {
		t.Errorf("Expected ErrNotInState for second draw on non-revolving credit, got %v", err)
	}
}

func TestDrawdown_RevolvingWithinPeriod(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1_000_000))

	// Ten days later, draw again. The new principal earns yield for the
	// 12 days left before February 1.
	h.clock.Set(date(2024, time.January, 20))
	updated, _, err := h.ledger.Drawdown(credit.ID, decimal.NewFromInt(500_000))
	if err != nil {
		t.Fatalf("Failed second drawdown: %v", err)
	}

	firstYield := feemath.ProratedYield(decimal.NewFromInt(1_000_000), 1200, 22)
	extraYield := feemath.ProratedYield(decimal.NewFromInt(500_000), 1200, 12)
	if want := firstYield.Add(extraYield); !updated.Record.NextDue.Equal(want) {
		t.Errorf("Expected bill %s after second draw, got %s", want, updated.Record.NextDue)
	}
	if want := decimal.NewFromInt(1_500_000); !updated.Record.UnbilledPrincipal.Equal(want) {
		t.Errorf("Expected unbilled %s, got %s", want, updated.Record.UnbilledPrincipal)
	}
}

// A credit drawn once, refreshed three periods late, then paid exactly
// its past due (late fee included) ends up back in good standing with
// missed periods reset and the elapsed periods consumed.
func TestPayment_CuresMultiPeriodDelinquency(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	principal := decimal.NewFromInt(1_000_000)
	h.ledger.Drawdown(credit.ID, principal)

	h.clock.Set(date(2024, time.April, 15))
	refreshed, err := h.ledger.RefreshCredit(credit.ID)
	if err != nil {
		t.Fatalf("Failed to refresh: %v", err)
	}
	if refreshed.Record.State != models.StateDelayed {
		t.Fatalf("Expected delayed after 3 missed periods, got %s", refreshed.Record.State)
	}
	if refreshed.Record.MissedPeriods != 3 {
		t.Fatalf("Expected 3 missed periods, got %d", refreshed.Record.MissedPeriods)
	}
	if refreshed.Record.RemainingPeriods != 1 {
		t.Errorf("Expected 1 remaining period, got %d", refreshed.Record.RemainingPeriods)
	}

	// Past due = the three rolled bills plus the late fee.
	jan := feemath.ProratedYield(principal, 1200, 22)
	feb := feemath.ProratedYield(principal, 1200, 29)
	mar := feemath.ProratedYield(principal, 1200, 31)
	lateFee := feemath.LateFee(principal, decimal.NewFromInt(100), 500)
	wantPastDue := jan.Add(feb).Add(mar).Add(lateFee)
	if !refreshed.Record.TotalPastDue.Equal(wantPastDue) {
		t.Fatalf("Expected past due %s, got %s", wantPastDue, refreshed.Record.TotalPastDue)
	}

	paid, waterfall, err := h.ledger.MakePayment(credit.ID, wantPastDue)
	if err != nil {
		t.Fatalf("Failed to make payment: %v", err)
	}
	if paid.Record.State != models.StateGoodStanding {
		t.Errorf("Expected good standing after curing past due, got %s", paid.Record.State)
	}
	if paid.Record.MissedPeriods != 0 {
		t.Errorf("Expected missed periods reset, got %d", paid.Record.MissedPeriods)
	}
	if !paid.Record.TotalPastDue.Equal(decimal.Zero) {
		t.Errorf("Expected past due cleared, got %s", paid.Record.TotalPastDue)
	}
	// The April bill stays outstanding.
	apr := feemath.ProratedYield(principal, 1200, 30)
	if !paid.Record.NextDue.Equal(apr) {
		t.Errorf("Expected next due %s untouched, got %s", apr, paid.Record.NextDue)
	}
	if !waterfall.LateFee.Equal(lateFee) {
		t.Errorf("Expected late fee %s consumed first, got %s", lateFee, waterfall.LateFee)
	}
	if !h.treasury.collected.Equal(wantPastDue) {
		t.Errorf("Expected %s collected, got %s", wantPastDue, h.treasury.collected)
	}
}

func TestPayment_ResidualNotCollected(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1000))

	stored, _ := h.store.GetCredit(credit.ID)
	owed := stored.Record.NextDue.Add(stored.Record.UnbilledPrincipal)
	payment := owed.Add(decimal.NewFromInt(500))

	_, waterfall, err := h.ledger.MakePayment(credit.ID, payment)
	if err != nil {
		t.Fatalf("Failed to make payment: %v", err)
	}
	if !waterfall.Residual.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected residual 500, got %s", waterfall.Residual)
	}
	if !h.treasury.collected.Equal(owed) {
		t.Errorf("Expected only %s collected, got %s", owed, h.treasury.collected)
	}
}

func TestPayment_RejectedStates(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())

	if _, _, err := h.ledger.MakePayment(credit.ID, decimal.NewFromInt(100)); !errors.Is(err, apperrors.ErrNotInState) {
		t.Errorf("Expected ErrNotInState paying an undrawn credit, got %v", err)
	}
	if _, _, err := h.ledger.MakePayment(credit.ID, decimal.Zero); !errors.Is(err, apperrors.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for zero payment, got %v", err)
	}
}

func TestRefreshCredit_IdempotentPersistence(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1_000_000))

	h.clock.Set(date(2024, time.February, 10))
	first, err := h.ledger.RefreshCredit(credit.ID)
	if err != nil {
		t.Fatalf("Failed to refresh: %v", err)
	}
	events := len(h.sink.events)

	second, err := h.ledger.RefreshCredit(credit.ID)
	if err != nil {
		t.Fatalf("Failed to refresh twice: %v", err)
	}
	if !second.Record.TotalPastDue.Equal(first.Record.TotalPastDue) ||
		second.Record.MissedPeriods != first.Record.MissedPeriods {
		t.Error("Expected second refresh to change nothing")
	}
	if len(h.sink.events) != events {
		t.Error("Expected no event from a no-op refresh")
	}
}

func TestCloseCredit(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1000))

	// Outstanding balance blocks the close.
	if _, err := h.ledger.CloseCredit(credit.ID); !errors.Is(err, apperrors.ErrOutstandingObligation) {
		t.Fatalf("Expected ErrOutstandingObligation, got %v", err)
	}

	stored, _ := h.store.GetCredit(credit.ID)
	owed := stored.Record.NextDue.Add(stored.Record.UnbilledPrincipal)
	h.ledger.MakePayment(credit.ID, owed)

	closed, err := h.ledger.CloseCredit(credit.ID)
	if err != nil {
		t.Fatalf("Failed to close paid-off credit: %v", err)
	}
	if closed.Record.State != models.StateDeleted {
		t.Errorf("Expected deleted state, got %s", closed.Record.State)
	}
	if !closed.Config.CreditLimit.Equal(decimal.Zero) {
		t.Errorf("Expected credit limit revoked, got %s", closed.Config.CreditLimit)
	}
}

func TestCloseCredit_UnfulfilledCommitment(t *testing.T) {
	h := newHarness(t)
	p := approveParams()
	p.CommittedAmount = decimal.NewFromInt(500_000)
	credit, _ := h.ledger.Approve(p)
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1000))

	stored, _ := h.store.GetCredit(credit.ID)
	owed := stored.Record.NextDue.Add(stored.Record.UnbilledPrincipal)
	h.ledger.MakePayment(credit.ID, owed)

	// Balances are clear but periods remain on the commitment.
	if _, err := h.ledger.CloseCredit(credit.ID); !errors.Is(err, apperrors.ErrOutstandingObligation) {
		t.Fatalf("Expected ErrOutstandingObligation for unfulfilled commitment, got %v", err)
	}
}

func TestCloseCredit_NeverDrawn(t *testing.T) {
	h := newHarness(t)
	p := approveParams()
	p.CommittedAmount = decimal.NewFromInt(500_000)
	credit, _ := h.ledger.Approve(p)

	// A credit that never started billing can always be closed.
	closed, err := h.ledger.CloseCredit(credit.ID)
	if err != nil {
		t.Fatalf("Failed to close undrawn credit: %v", err)
	}
	if closed.Record.State != models.StateDeleted {
		t.Errorf("Expected deleted state, got %s", closed.Record.State)
	}
}

func TestPauseUnpause(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1_000_000))

	paused, err := h.ledger.PauseCredit(credit.ID)
	if err != nil {
		t.Fatalf("Failed to pause: %v", err)
	}
	if paused.Record.State != models.StatePaused {
		t.Errorf("Expected paused, got %s", paused.Record.State)
	}

	// Refreshing a paused credit is a no-op.
	h.clock.Set(date(2024, time.March, 15))
	refreshed, _ := h.ledger.RefreshCredit(credit.ID)
	if refreshed.Record.State != models.StatePaused || refreshed.Record.MissedPeriods != 0 {
		t.Errorf("Expected paused credit untouched by refresh, got %s / %d",
			refreshed.Record.State, refreshed.Record.MissedPeriods)
	}

	resumed, err := h.ledger.UnpauseCredit(credit.ID)
	if err != nil {
		t.Fatalf("Failed to unpause: %v", err)
	}
	if resumed.Record.State != models.StateGoodStanding {
		t.Errorf("Expected good standing after unpause, got %s", resumed.Record.State)
	}

	// Pause on an undrawn credit is a silent no-op.
	other, _ := h.ledger.Approve(approveParams())
	same, err := h.ledger.PauseCredit(other.ID)
	if err != nil {
		t.Fatalf("Unexpected error pausing approved credit: %v", err)
	}
	if same.Record.State != models.StateApproved {
		t.Errorf("Expected state unchanged, got %s", same.Record.State)
	}
}

func TestTriggerDefault(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1_000_000))

	// One missed month is within the 3 month default grace.
	h.clock.Set(date(2024, time.February, 15))
	if _, err := h.ledger.TriggerDefault(credit.ID); !errors.Is(err, apperrors.ErrNotInState) {
		t.Fatalf("Expected ErrNotInState within default grace, got %v", err)
	}

	// Four missed months exceeds it.
	h.clock.Set(date(2024, time.May, 15))
	defaulted, err := h.ledger.TriggerDefault(credit.ID)
	if err != nil {
		t.Fatalf("Failed to trigger default: %v", err)
	}
	if defaulted.Record.State != models.StateDefaulted {
		t.Errorf("Expected defaulted, got %s", defaulted.Record.State)
	}

	// Defaulted credits still accept payments.
	stored, _ := h.store.GetCredit(credit.ID)
	if _, _, err := h.ledger.MakePayment(credit.ID, stored.Record.TotalPastDue); err != nil {
		t.Errorf("Expected payment on defaulted credit to succeed, got %v", err)
	}
}

func TestRefreshAll(t *testing.T) {
	h := newHarness(t)
	a, _ := h.ledger.Approve(approveParams())
	b, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(a.ID, decimal.NewFromInt(1_000_000))
	h.ledger.Drawdown(b.ID, decimal.NewFromInt(2_000_000))

	h.clock.Set(date(2024, time.March, 15))
	h.ledger.RefreshAll()

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		stored, _ := h.store.GetCredit(id)
		if stored.Record.State != models.StateDelayed {
			t.Errorf("Expected credit %s delayed after sweep, got %s", id, stored.Record.State)
		}
	}
}

// journalFailStore fails the combined record-and-journal write.
type journalFailStore struct {
	*MockStore
}

func (s *journalFailStore) UpdateCreditWithJournal(*models.Credit, *models.Transaction) error {
	return errors.New("journal write failed")
}

// failingTreasury rejects every money movement.
type failingTreasury struct{}

func (failingTreasury) Disburse(string, decimal.Decimal) error {
	return errors.New("disburse failed")
}

func (failingTreasury) Collect(string, decimal.Decimal) error {
	return errors.New("collect failed")
}

func TestPayment_FailedWriteLeavesStoredCreditUnchanged(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1_000_000))
	before, _ := h.store.GetCredit(credit.ID)

	h.ledger.storage = &journalFailStore{h.store}
	if _, _, err := h.ledger.MakePayment(credit.ID, decimal.NewFromInt(1000)); err == nil {
		t.Fatal("Expected payment to fail when the journal write fails")
	}

	after, _ := h.store.GetCredit(credit.ID)
	if !after.Record.NextDue.Equal(before.Record.NextDue) {
		t.Errorf("Stored next due changed %s -> %s despite failed payment",
			before.Record.NextDue, after.Record.NextDue)
	}
	if !after.Record.UnbilledPrincipal.Equal(before.Record.UnbilledPrincipal) {
		t.Errorf("Stored unbilled principal changed %s -> %s despite failed payment",
			before.Record.UnbilledPrincipal, after.Record.UnbilledPrincipal)
	}
}

func TestPayment_FailedCollectLeavesStoredCreditUnchanged(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1_000_000))
	before, _ := h.store.GetCredit(credit.ID)

	h.ledger.SetTreasury(failingTreasury{})
	if _, _, err := h.ledger.MakePayment(credit.ID, decimal.NewFromInt(1000)); err == nil {
		t.Fatal("Expected payment to fail when collection fails")
	}

	after, _ := h.store.GetCredit(credit.ID)
	if !after.Record.NextDue.Equal(before.Record.NextDue) {
		t.Errorf("Stored next due changed %s -> %s despite failed collection",
			before.Record.NextDue, after.Record.NextDue)
	}
	txs, _ := h.store.GetTransactionsForCredit(credit.ID)
	for _, tx := range txs {
		if tx.Type == models.TransactionTypePayment {
			t.Error("Expected no payment journal entry after failed collection")
		}
	}
}

func TestDrawdown_FailedDisburseLeavesStoredCreditUnchanged(t *testing.T) {
	h := newHarness(t)
	credit, _ := h.ledger.Approve(approveParams())

	h.ledger.SetTreasury(failingTreasury{})
	if _, _, err := h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1_000_000)); err == nil {
		t.Fatal("Expected drawdown to fail when disbursement fails")
	}

	stored, _ := h.store.GetCredit(credit.ID)
	if stored.Record.State != models.StateApproved {
		t.Errorf("Expected stored credit still approved, got %s", stored.Record.State)
	}
	if stored.Record.UnbilledPrincipal.Sign() != 0 {
		t.Errorf("Expected no stored principal, got %s", stored.Record.UnbilledPrincipal)
	}
	if txs, _ := h.store.GetTransactionsForCredit(credit.ID); len(txs) != 0 {
		t.Errorf("Expected empty journal after failed drawdown, got %d entries", len(txs))
	}
}

// A single period credit whose final payment winds it down can still be
// closed afterwards, and the close revokes the limit and repeats cleanly.
func TestCloseCredit_AfterFinalPayoff(t *testing.T) {
	h := newHarness(t)
	p := approveParams()
	p.NumOfPeriods = 1
	credit, _ := h.ledger.Approve(p)
	h.ledger.Drawdown(credit.ID, decimal.NewFromInt(1_000_000))

	stored, _ := h.store.GetCredit(credit.ID)
	paid, _, err := h.ledger.MakePayment(credit.ID, stored.Record.NextDue)
	if err != nil {
		t.Fatalf("Failed final payment: %v", err)
	}
	if paid.Record.State != models.StateDeleted {
		t.Fatalf("Expected final payment to wind the credit down, got %s", paid.Record.State)
	}
	if paid.Config.CreditLimit.Sign() == 0 {
		t.Fatal("Expected limit untouched by the payment itself")
	}

	closed, err := h.ledger.CloseCredit(credit.ID)
	if err != nil {
		t.Fatalf("Failed to close wound-down credit: %v", err)
	}
	if !closed.Config.CreditLimit.Equal(decimal.Zero) {
		t.Errorf("Expected credit limit revoked, got %s", closed.Config.CreditLimit)
	}
	if closed.Record.State != models.StateDeleted {
		t.Errorf("Expected deleted state, got %s", closed.Record.State)
	}

	again, err := h.ledger.CloseCredit(credit.ID)
	if err != nil {
		t.Fatalf("Expected repeat close to succeed, got %v", err)
	}
	if !again.Config.CreditLimit.Equal(decimal.Zero) {
		t.Errorf("Expected limit still zero, got %s", again.Config.CreditLimit)
	}
}
