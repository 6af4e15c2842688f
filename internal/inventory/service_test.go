package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

var testKey = Key{WarehouseID: 1, ProductID: 7}

type stubLedger struct {
	posted   []ReconciliationPostedEvent
	revalued []ReconciliationRevaluedEvent
	reversed []ReconciliationCancelledEvent
	nextID   int64
	failPost error
}

func (s *stubLedger) HandleReconciliationPosted(_ context.Context, evt ReconciliationPostedEvent) (int64, error) {
	if s.failPost != nil {
		return 0, s.failPost
	}
	s.posted = append(s.posted, evt)
	s.nextID++
	return s.nextID, nil
}

func (s *stubLedger) HandleReconciliationRevalued(_ context.Context, evt ReconciliationRevaluedEvent) (int64, error) {
	s.revalued = append(s.revalued, evt)
	s.nextID++
	return s.nextID, nil
}

func (s *stubLedger) HandleReconciliationCancelled(_ context.Context, evt ReconciliationCancelledEvent) (int64, error) {
	s.reversed = append(s.reversed, evt)
	s.nextID++
	return s.nextID, nil
}

type testEnv struct {
	svc    *Service
	repo   *MemoryRepository
	ledger *stubLedger
	audit  *shared.MemoryAuditLog
}

func newTestEnv(t *testing.T, method valuation.Method, allowNegative bool) *testEnv {
	t.Helper()
	repo := NewMemoryRepository()
	ledger := &stubLedger{}
	audit := shared.NewMemoryAuditLog()
	svc := NewService(repo, audit, shared.NewMemoryIdempotencyStore(), ServiceConfig{
		AllowNegativeStock: allowNegative,
		DefaultMethod:      method,
	}, ledger).WithNow(func() time.Time { return time.Date(2013, 2, 1, 0, 0, 0, 0, time.UTC) })
	return &testEnv{svc: svc, repo: repo, ledger: ledger, audit: audit}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func nullDec(v string) decimal.NullDecimal {
	if v == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(dec(v))
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func at(value string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", value)
	if err != nil {
		panic(err)
	}
	return t
}

func (e *testEnv) receipt(t *testing.T, posted, qty, rate string) MovementResult {
	t.Helper()
	res, err := e.svc.PostReceipt(context.Background(), ReceiptInput{
		WarehouseID: testKey.WarehouseID,
		ProductID:   testKey.ProductID,
		PostedAt:    at(posted),
		Qty:         dec(qty),
		Rate:        dec(rate),
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) issue(t *testing.T, posted, qty string) MovementResult {
	t.Helper()
	res, err := e.svc.PostIssue(context.Background(), IssueInput{
		WarehouseID: testKey.WarehouseID,
		ProductID:   testKey.ProductID,
		PostedAt:    at(posted),
		Qty:         dec(qty),
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) reconcile(posted, qty, rate string) (ReconciliationResult, error) {
	return e.svc.ApplyReconciliation(context.Background(), ReconciliationInput{
		WarehouseID: testKey.WarehouseID,
		ProductID:   testKey.ProductID,
		PostedAt:    at(posted),
		Qty:         nullDec(qty),
		Rate:        nullDec(rate),
	})
}

// history posts 20@1000, 10@700, -15, -20 and 15@1200 between 2012-12-12 and 2013-01-05.
func (e *testEnv) history(t *testing.T) {
	t.Helper()
	e.receipt(t, "2012-12-12 01:00", "20", "1000")
	e.receipt(t, "2012-12-15 02:00", "10", "700")
	e.issue(t, "2012-12-25 03:00", "15")
	e.issue(t, "2012-12-31 08:00", "20")
	e.receipt(t, "2013-01-05 07:00", "15", "1200")
}

func (e *testEnv) card(t *testing.T) []Movement {
	t.Helper()
	entries, err := e.svc.GetStockCard(context.Background(), StockCardFilter{WarehouseID: testKey.WarehouseID, ProductID: testKey.ProductID})
	require.NoError(t, err)
	return entries
}

type recoCase struct {
	qty, rate  string
	posted     string
	stockValue string
	finalQty   string
	finalValue string
}

func runRecoCases(t *testing.T, method valuation.Method, cases []recoCase) {
	t.Helper()
	for i, tc := range cases {
		env := newTestEnv(t, method, true)
		env.history(t)

		res, err := env.reconcile(tc.posted, tc.qty, tc.rate)
		require.NoError(t, err, "case %d", i)
		requireDecimal(t, tc.stockValue, res.Reconciliation.ValueAfter, "case", i)
		requireDecimal(t, tc.finalQty, res.Balance.Qty, "case", i)
		requireDecimal(t, tc.finalValue, res.Balance.Value, "case", i)

		balance, err := env.svc.GetBalance(context.Background(), testKey)
		require.NoError(t, err)
		requireDecimal(t, tc.finalQty, balance.Qty, "case", i)
		requireDecimal(t, tc.finalValue, balance.Value, "case", i)

		card := env.card(t)
		require.Len(t, card, 6, "case %d", i)
		last := card[len(card)-1]
		requireDecimal(t, balance.Qty.String(), last.QtyAfter, "case", i)
		requireDecimal(t, balance.Value.String(), last.ValueAfter, "case", i)
		require.Equal(t, last.ID, balance.LastMovementID)
	}
}

const (
	beforeSecondIssue = "2012-12-26 12:00"
	beforeLastReceipt = "2013-01-01 12:00"
	beforeEverything  = "2012-12-01 12:00"
)

func TestApplyReconciliationFIFO(t *testing.T) {
	runRecoCases(t, valuation.MethodFIFO, []recoCase{
		{"50", "1000", beforeSecondIssue, "50000", "45", "48000"},
		{"5", "1000", beforeSecondIssue, "5000", "0", "0"},
		{"15", "1000", beforeSecondIssue, "15000", "10", "12000"},
		{"25", "900", beforeSecondIssue, "22500", "20", "22500"},
		{"20", "500", beforeSecondIssue, "10000", "15", "18000"},
		{"50", "1000", beforeLastReceipt, "50000", "65", "68000"},
		{"5", "1000", beforeLastReceipt, "5000", "20", "23000"},
		{"", "1000", beforeSecondIssue, "15000", "10", "12000"},
		{"20", "", beforeSecondIssue, "16000", "15", "18000"},
		{"10", "2000", beforeSecondIssue, "20000", "5", "6000"},
		{"1", "1000", beforeEverything, "1000", "11", "13200"},
		{"0", "", beforeSecondIssue, "0", "-5", "-6000"},
	})
}

func TestApplyReconciliationMovingAverage(t *testing.T) {
	runRecoCases(t, valuation.MethodMovingAverage, []recoCase{
		{"50", "1000", beforeSecondIssue, "50000", "45", "48000"},
		{"5", "1000", beforeSecondIssue, "5000", "0", "0"},
		{"15", "1000", beforeSecondIssue, "15000", "10", "11500"},
		{"25", "900", beforeSecondIssue, "22500", "20", "22500"},
		{"20", "500", beforeSecondIssue, "10000", "15", "18000"},
		{"50", "1000", beforeLastReceipt, "50000", "65", "68000"},
		{"5", "1000", beforeLastReceipt, "5000", "20", "23000"},
		{"", "1000", beforeSecondIssue, "15000", "10", "11500"},
		{"20", "", beforeSecondIssue, "18000", "15", "18000"},
		{"10", "2000", beforeSecondIssue, "20000", "5", "7600"},
		{"1", "1000", beforeEverything, "1000", "11", "12512.73"},
		{"0", "", beforeSecondIssue, "0", "-5", "-5142.86"},
	})
}

func TestApplyReconciliationPostsValueChange(t *testing.T) {
	env := newTestEnv(t, valuation.MethodMovingAverage, true)
	env.history(t)

	res, err := env.reconcile(beforeSecondIssue, "50", "1000")
	require.NoError(t, err)
	reco := res.Reconciliation
	require.Equal(t, ReconciliationPosted, reco.Status)
	requireDecimal(t, "15", reco.QtyBefore)
	requireDecimal(t, "13500", reco.ValueBefore)
	requireDecimal(t, "36500", reco.ValueChange)
	require.Equal(t, int64(1), reco.JournalID)
	require.Equal(t, 2, res.Rewritten)

	require.Len(t, env.ledger.posted, 1)
	requireDecimal(t, "36500", env.ledger.posted[0].ValueChange)
	require.Equal(t, reco.ID, env.ledger.posted[0].ReconciliationID)

	stored, err := env.svc.GetReconciliation(context.Background(), reco.ID)
	require.NoError(t, err)
	require.Equal(t, reco.MovementID, stored.MovementID)
	require.Equal(t, valuation.MethodMovingAverage, stored.Method)
	require.NotEmpty(t, env.audit.Entries())
}

func TestPostingOrderDoesNotMatter(t *testing.T) {
	inOrder := newTestEnv(t, valuation.MethodFIFO, true)
	inOrder.history(t)
	_, err := inOrder.reconcile(beforeSecondIssue, "25", "900")
	require.NoError(t, err)

	shuffled := newTestEnv(t, valuation.MethodFIFO, true)
	_, err = shuffled.reconcile(beforeSecondIssue, "25", "900")
	require.NoError(t, err)
	shuffled.receipt(t, "2013-01-05 07:00", "15", "1200")
	shuffled.issue(t, "2012-12-31 08:00", "20")
	shuffled.receipt(t, "2012-12-12 01:00", "20", "1000")
	shuffled.issue(t, "2012-12-25 03:00", "15")
	shuffled.receipt(t, "2012-12-15 02:00", "10", "700")

	want, got := inOrder.card(t), shuffled.card(t)
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].Kind, got[i].Kind, "row %d", i)
		require.True(t, want[i].PostedAt.Equal(got[i].PostedAt), "row %d", i)
		requireDecimal(t, want[i].QtyAfter.String(), got[i].QtyAfter, "row", i)
		requireDecimal(t, want[i].ValueAfter.String(), got[i].ValueAfter, "row", i)
		requireDecimal(t, want[i].ValuationRate.String(), got[i].ValuationRate, "row", i)
	}
}

func TestSameInstantKeepsArrivalOrder(t *testing.T) {
	env := newTestEnv(t, valuation.MethodMovingAverage, false)
	env.receipt(t, "2013-01-10 09:00", "10", "100")
	env.issue(t, "2013-01-10 09:00", "4")
	env.receipt(t, "2013-01-10 09:00", "4", "130")

	card := env.card(t)
	require.Len(t, card, 3)
	require.Equal(t, []int64{1, 2, 3}, []int64{card[0].Seq, card[1].Seq, card[2].Seq})
	require.Equal(t, MovementIssue, card[1].Kind)
	requireDecimal(t, "10", card[2].QtyAfter)
	requireDecimal(t, "1120", card[2].ValueAfter)
}

func TestCancelReconciliationRestoresLedger(t *testing.T) {
	for _, method := range []valuation.Method{valuation.MethodFIFO, valuation.MethodMovingAverage} {
		env := newTestEnv(t, method, true)
		env.history(t)
		before := env.card(t)

		res, err := env.reconcile(beforeSecondIssue, "20", "500")
		require.NoError(t, err)

		cancelled, err := env.svc.CancelReconciliation(context.Background(), res.Reconciliation.ID, 9)
		require.NoError(t, err)
		require.Equal(t, ReconciliationCancelled, cancelled.Reconciliation.Status)
		require.NotNil(t, cancelled.Reconciliation.CancelledAt)
		require.NotZero(t, cancelled.Reconciliation.ReversalJournalID)

		require.Len(t, env.ledger.reversed, 1)
		require.Equal(t, res.Reconciliation.JournalID, env.ledger.reversed[0].JournalID)

		after := env.card(t)
		require.Len(t, after, len(before), method)
		for i := range before {
			require.Equal(t, before[i].ID, after[i].ID)
			requireDecimal(t, before[i].QtyAfter.String(), after[i].QtyAfter, method, i)
			requireDecimal(t, before[i].ValueAfter.String(), after[i].ValueAfter, method, i)
			requireDecimal(t, before[i].ValueChange.String(), after[i].ValueChange, method, i)
		}

		_, err = env.svc.CancelReconciliation(context.Background(), res.Reconciliation.ID, 9)
		require.ErrorIs(t, err, ErrInvalidStatus)
	}
}

func TestCancelLastMovementDropsBalance(t *testing.T) {
	env := newTestEnv(t, valuation.MethodFIFO, false)
	res, err := env.reconcile("2013-01-02 10:00", "3", "40")
	require.NoError(t, err)
	requireDecimal(t, "120", res.Balance.Value)

	_, err = env.svc.CancelReconciliation(context.Background(), res.Reconciliation.ID, 0)
	require.NoError(t, err)

	_, err = env.repo.GetBalance(context.Background(), testKey)
	require.ErrorIs(t, err, ErrBalanceNotFound)
	balance, err := env.svc.GetBalance(context.Background(), testKey)
	require.NoError(t, err)
	require.True(t, balance.Qty.IsZero())
	require.True(t, balance.Value.IsZero())
}

func TestCancelUnknownReconciliation(t *testing.T) {
	env := newTestEnv(t, valuation.MethodFIFO, false)
	_, err := env.svc.CancelReconciliation(context.Background(), 42, 0)
	require.ErrorIs(t, err, ErrReconciliationNotFound)
}

func TestInsufficientStockLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t, valuation.MethodFIFO, false)
	env.receipt(t, "2012-12-12 01:00", "20", "1000")
	env.issue(t, "2012-12-25 03:00", "15")
	before := env.card(t)

	_, err := env.svc.PostIssue(context.Background(), IssueInput{
		WarehouseID: testKey.WarehouseID,
		ProductID:   testKey.ProductID,
		PostedAt:    at("2012-12-31 08:00"),
		Qty:         dec("20"),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// A back-dated count that makes the later issue overdraw is refused too.
	_, err = env.reconcile("2012-12-20 00:00", "5", "1000")
	require.ErrorIs(t, err, ErrInsufficientStock)

	after := env.card(t)
	require.Len(t, after, len(before))
	for i := range before {
		require.Equal(t, before[i], after[i])
	}
	balance, err := env.svc.GetBalance(context.Background(), testKey)
	require.NoError(t, err)
	requireDecimal(t, "5", balance.Qty)
	requireDecimal(t, "5000", balance.Value)

	_, err = env.svc.GetReconciliation(context.Background(), 1)
	require.ErrorIs(t, err, ErrReconciliationNotFound)
	require.Empty(t, env.ledger.posted)
}

func TestApplyReconciliationValidation(t *testing.T) {
	env := newTestEnv(t, valuation.MethodMovingAverage, false)
	ctx := context.Background()

	_, err := env.reconcile("2013-01-02 10:00", "", "")
	require.ErrorIs(t, err, ErrEmptyReconciliation)

	_, err = env.reconcile("2013-01-02 10:00", "-1", "10")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = env.reconcile("2013-01-02 10:00", "1", "-10")
	require.ErrorIs(t, err, ErrInvalidRate)

	_, err = env.svc.ApplyReconciliation(ctx, ReconciliationInput{ProductID: 7, Qty: nullDec("1")})
	require.ErrorIs(t, err, ErrKeyRequired)

	_, err = env.reconcile("2013-01-02 10:00", "5", "")
	require.ErrorIs(t, err, ErrValuationRateRequired)
	require.Empty(t, env.card(t))

	_, err = env.svc.PostReceipt(ctx, ReceiptInput{WarehouseID: 1, ProductID: 7, Qty: dec("0"), Rate: dec("1")})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = env.svc.PostReceipt(ctx, ReceiptInput{WarehouseID: 1, ProductID: 7, Qty: dec("1"), Rate: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidRate)
	_, err = env.svc.PostIssue(ctx, IssueInput{WarehouseID: 1, ProductID: 7, Qty: dec("-2")})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestApplyReconciliationIdempotentCode(t *testing.T) {
	env := newTestEnv(t, valuation.MethodFIFO, false)
	env.receipt(t, "2012-12-12 01:00", "20", "1000")
	in := ReconciliationInput{
		Code:        "SR-0001",
		WarehouseID: testKey.WarehouseID,
		ProductID:   testKey.ProductID,
		PostedAt:    at("2012-12-20 00:00"),
		Qty:         nullDec("18"),
	}
	_, err := env.svc.ApplyReconciliation(context.Background(), in)
	require.NoError(t, err)
	_, err = env.svc.ApplyReconciliation(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, env.card(t), 2)
}

func TestFailedApplyReleasesCode(t *testing.T) {
	env := newTestEnv(t, valuation.MethodFIFO, false)
	env.receipt(t, "2012-12-12 01:00", "20", "1000")
	env.ledger.failPost = errors.New("ledger offline")
	in := ReconciliationInput{
		Code:        "SR-0002",
		WarehouseID: testKey.WarehouseID,
		ProductID:   testKey.ProductID,
		PostedAt:    at("2012-12-20 00:00"),
		Rate:        nullDec("900"),
	}
	_, err := env.svc.ApplyReconciliation(context.Background(), in)
	require.ErrorContains(t, err, "ledger offline")
	require.Len(t, env.card(t), 1)

	env.ledger.failPost = nil
	res, err := env.svc.ApplyReconciliation(context.Background(), in)
	require.NoError(t, err)
	requireDecimal(t, "-2000", res.Reconciliation.ValueChange)
}

type failingTxRepo struct {
	*MemoryRepository
	failUpdate error
}

func (r *failingTxRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.MemoryRepository.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, failingTx{TxRepository: tx, failUpdate: r.failUpdate})
	})
}

type failingTx struct {
	TxRepository
	failUpdate error
}

func (tx failingTx) UpdateReconciliation(ctx context.Context, reco Reconciliation) error {
	if tx.failUpdate != nil {
		return tx.failUpdate
	}
	return tx.TxRepository.UpdateReconciliation(ctx, reco)
}

func TestPostedJournalIsCompensatedOnRollback(t *testing.T) {
	ledger := &stubLedger{}
	repo := &failingTxRepo{MemoryRepository: NewMemoryRepository(), failUpdate: errors.New("disk full")}
	svc := NewService(repo, nil, nil, ServiceConfig{DefaultMethod: valuation.MethodFIFO}, ledger)

	_, err := svc.ApplyReconciliation(context.Background(), ReconciliationInput{
		WarehouseID: testKey.WarehouseID,
		ProductID:   testKey.ProductID,
		PostedAt:    at("2013-01-02 10:00"),
		Qty:         nullDec("2"),
		Rate:        nullDec("10"),
	})
	require.ErrorContains(t, err, "disk full")
	require.Len(t, ledger.posted, 1)
	require.Len(t, ledger.reversed, 1)
	require.Equal(t, int64(1), ledger.reversed[0].JournalID)

	keys, err := repo.ListKeys(context.Background())
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestItemSettingsChooseMethod(t *testing.T) {
	env := newTestEnv(t, valuation.MethodMovingAverage, true)
	env.svc.WithItemSettings(StaticMethods{
		Default:   valuation.MethodMovingAverage,
		ByProduct: map[int64]valuation.Method{testKey.ProductID: valuation.MethodFIFO},
	})
	env.history(t)

	balance, err := env.svc.GetBalance(context.Background(), testKey)
	require.NoError(t, err)
	requireDecimal(t, "12000", balance.Value)
}

func TestRebuildRepairsDrift(t *testing.T) {
	env := newTestEnv(t, valuation.MethodMovingAverage, true)
	env.history(t)
	_, err := env.reconcile(beforeSecondIssue, "20", "")
	require.NoError(t, err)
	want := env.card(t)

	err = env.repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		m := want[2]
		m.ValueAfter = m.ValueAfter.Add(dec("1"))
		m.ValueChange = dec("0")
		if err := tx.UpdateValuation(ctx, m); err != nil {
			return err
		}
		return tx.UpsertBalance(ctx, Balance{WarehouseID: 1, ProductID: 7, Qty: dec("99")})
	})
	require.NoError(t, err)

	other := Key{WarehouseID: 2, ProductID: 7}
	_, err = env.svc.PostReceipt(context.Background(), ReceiptInput{
		WarehouseID: other.WarehouseID,
		ProductID:   other.ProductID,
		PostedAt:    at("2013-01-03 00:00"),
		Qty:         dec("2"),
		Rate:        dec("50"),
	})
	require.NoError(t, err)

	summary, err := env.svc.RebuildAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Keys)
	require.Equal(t, 1, summary.Rewritten)
	require.Equal(t, 1, summary.Drifted)

	got := env.card(t)
	for i := range want {
		requireDecimal(t, want[i].ValueAfter.String(), got[i].ValueAfter, "row", i)
		requireDecimal(t, want[i].ValueChange.String(), got[i].ValueChange, "row", i)
	}
	balance, err := env.svc.GetBalance(context.Background(), testKey)
	require.NoError(t, err)
	requireDecimal(t, "15", balance.Qty)
	requireDecimal(t, "18000", balance.Value)
}

func TestStockCardFilter(t *testing.T) {
	env := newTestEnv(t, valuation.MethodFIFO, true)
	env.history(t)
	entries, err := env.svc.GetStockCard(context.Background(), StockCardFilter{
		WarehouseID: testKey.WarehouseID,
		ProductID:   testKey.ProductID,
		From:        at("2012-12-15 00:00"),
		To:          at("2012-12-31 23:59"),
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	requireDecimal(t, "-5", entries[2].QtyAfter)

	_, err = env.svc.GetStockCard(context.Background(), StockCardFilter{ProductID: 7})
	require.ErrorIs(t, err, ErrKeyRequired)
}

func TestReconcileNegativeStock(t *testing.T) {
	cases := []struct {
		method     valuation.Method
		qty, rate  string
		qtyAfter   string
		valueAfter string
		finalQty   string
		finalValue string
	}{
		{valuation.MethodFIFO, "", "800", "-5", "-4000", "10", "12000"},
		{valuation.MethodMovingAverage, "", "800", "-5", "-4000", "10", "11000"},
		// A zero quantity with a rate empties the position.
		{valuation.MethodFIFO, "0", "800", "0", "0", "15", "18000"},
		{valuation.MethodMovingAverage, "0", "800", "0", "0", "15", "18000"},
	}
	for i, tc := range cases {
		env := newTestEnv(t, tc.method, true)
		env.history(t)

		res, err := env.reconcile(beforeLastReceipt, tc.qty, tc.rate)
		require.NoError(t, err, "case %d", i)
		reco := res.Reconciliation
		requireDecimal(t, "-5", reco.QtyBefore, "case", i)
		requireDecimal(t, tc.qtyAfter, reco.QtyAfter, "case", i)
		requireDecimal(t, tc.valueAfter, reco.ValueAfter, "case", i)
		requireDecimal(t, reco.ValueAfter.Sub(reco.ValueBefore).String(), reco.ValueChange, "case", i)
		requireDecimal(t, tc.finalQty, res.Balance.Qty, "case", i)
		requireDecimal(t, tc.finalValue, res.Balance.Value, "case", i)
	}
}

func TestCancelSupersededReconciliationConverges(t *testing.T) {
	cases := []struct {
		method valuation.Method
		later  string
	}{
		{valuation.MethodFIFO, beforeSecondIssue},
		{valuation.MethodFIFO, "2012-12-28 12:00"},
		{valuation.MethodMovingAverage, beforeSecondIssue},
		{valuation.MethodMovingAverage, "2012-12-28 12:00"},
	}
	for i, tc := range cases {
		env := newTestEnv(t, tc.method, true)
		env.history(t)
		first, err := env.reconcile(beforeSecondIssue, "50", "1000")
		require.NoError(t, err, "case %d", i)
		second, err := env.reconcile(tc.later, "25", "900")
		require.NoError(t, err, "case %d", i)

		_, err = env.svc.CancelReconciliation(context.Background(), first.Reconciliation.ID, 0)
		require.NoError(t, err, "case %d", i)

		only := newTestEnv(t, tc.method, true)
		only.history(t)
		want, err := only.reconcile(tc.later, "25", "900")
		require.NoError(t, err, "case %d", i)

		balance, err := env.svc.GetBalance(context.Background(), testKey)
		require.NoError(t, err)
		requireDecimal(t, want.Balance.Qty.String(), balance.Qty, "case", i)
		requireDecimal(t, want.Balance.Value.String(), balance.Value, "case", i)

		got, wantCard := env.card(t), only.card(t)
		require.Len(t, got, len(wantCard), "case %d", i)
		for j := range wantCard {
			requireDecimal(t, wantCard[j].QtyAfter.String(), got[j].QtyAfter, "case", i, "row", j)
			requireDecimal(t, wantCard[j].ValueAfter.String(), got[j].ValueAfter, "case", i, "row", j)
			requireDecimal(t, wantCard[j].ValueChange.String(), got[j].ValueChange, "case", i, "row", j)
		}

		reco, err := env.svc.GetReconciliation(context.Background(), second.Reconciliation.ID)
		require.NoError(t, err)
		requireDecimal(t, want.Reconciliation.ValueBefore.String(), reco.ValueBefore, "case", i)
		requireDecimal(t, want.Reconciliation.ValueChange.String(), reco.ValueChange, "case", i)
		require.Len(t, env.ledger.revalued, 1, "case %d", i)
		booked := second.Reconciliation.ValueChange.Add(env.ledger.revalued[0].Delta)
		requireDecimal(t, reco.ValueChange.String(), booked, "case", i)
	}
}

func TestCancelUsesCurrentProductMethod(t *testing.T) {
	env := newTestEnv(t, valuation.MethodFIFO, true)
	env.history(t)
	res, err := env.reconcile(beforeSecondIssue, "20", "500")
	require.NoError(t, err)

	env.svc.WithItemSettings(StaticMethods{Default: valuation.MethodMovingAverage})
	cancelled, err := env.svc.CancelReconciliation(context.Background(), res.Reconciliation.ID, 0)
	require.NoError(t, err)
	requireDecimal(t, "10", cancelled.Balance.Qty)
	requireDecimal(t, "11250", cancelled.Balance.Value)
}
