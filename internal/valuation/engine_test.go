package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

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

func receipt(qty, rate string) Step {
	return Step{Kind: StepReceipt, Qty: dec(qty), Rate: nullDec(rate)}
}

func issue(qty string) Step {
	return Step{Kind: StepIssue, Qty: dec(qty).Neg()}
}

func reco(qty, rate string) Step {
	return Step{Kind: StepReconciliation, SetQty: nullDec(qty), Rate: nullDec(rate)}
}

// history: 12-12 +20@1000, 12-15 +10@700, 12-25 -15, 12-31 -20, 01-05 +15@1200.
func history() []Step {
	return []Step{
		receipt("20", "1000"),
		receipt("10", "700"),
		issue("15"),
		issue("20"),
		receipt("15", "1200"),
	}
}

func insertAt(steps []Step, index int, step Step) []Step {
	out := make([]Step, 0, len(steps)+1)
	out = append(out, steps[:index]...)
	out = append(out, step)
	return append(out, steps[index:]...)
}

type recoCase struct {
	qty, rate  string
	index      int
	stockValue string
	finalQty   string
	finalValue string
}

func runRecoCases(t *testing.T, method Method, cases []recoCase) {
	t.Helper()
	for i, tc := range cases {
		steps := insertAt(history(), tc.index, reco(tc.qty, tc.rate))
		results, err := Replay(steps, method, Options{AllowNegativeStock: true})
		require.NoError(t, err, "case %d", i)

		requireDecimal(t, tc.stockValue, results[tc.index].ValueAfter, "case", i)
		last := results[len(results)-1]
		requireDecimal(t, tc.finalQty, last.QtyAfter, "case", i)
		requireDecimal(t, tc.finalValue, last.ValueAfter, "case", i)
	}
}

func TestReplayFIFOReconciliation(t *testing.T) {
	runRecoCases(t, MethodFIFO, []recoCase{
		{"50", "1000", 3, "50000", "45", "48000"},
		{"5", "1000", 3, "5000", "0", "0"},
		{"15", "1000", 3, "15000", "10", "12000"},
		{"25", "900", 3, "22500", "20", "22500"},
		{"20", "500", 3, "10000", "15", "18000"},
		{"50", "1000", 4, "50000", "65", "68000"},
		{"5", "1000", 4, "5000", "20", "23000"},
		{"", "1000", 3, "15000", "10", "12000"},
		{"20", "", 3, "16000", "15", "18000"},
		{"10", "2000", 3, "20000", "5", "6000"},
		{"1", "1000", 0, "1000", "11", "13200"},
		{"0", "", 3, "0", "-5", "-6000"},
	})
}

func TestReplayMovingAverageReconciliation(t *testing.T) {
	runRecoCases(t, MethodMovingAverage, []recoCase{
		{"50", "1000", 3, "50000", "45", "48000"},
		{"5", "1000", 3, "5000", "0", "0"},
		{"15", "1000", 3, "15000", "10", "11500"},
		{"25", "900", 3, "22500", "20", "22500"},
		{"20", "500", 3, "10000", "15", "18000"},
		{"50", "1000", 4, "50000", "65", "68000"},
		{"5", "1000", 4, "5000", "20", "23000"},
		{"", "1000", 3, "15000", "10", "11500"},
		{"20", "", 3, "18000", "15", "18000"},
		{"10", "2000", 3, "20000", "5", "7600"},
		{"1", "1000", 0, "1000", "11", "12512.73"},
		{"0", "", 3, "0", "-5", "-5142.86"},
	})
}

func TestReplayMovingAverageValueChange(t *testing.T) {
	steps := insertAt(history(), 3, reco("50", "1000"))
	results, err := Replay(steps, MethodMovingAverage, Options{AllowNegativeStock: true})
	require.NoError(t, err)

	// 15 on hand at 900 before the count.
	requireDecimal(t, "13500", results[2].ValueAfter)
	requireDecimal(t, "36500", results[3].ValueChange)
	requireDecimal(t, "35", results[3].ActualQty)
}

func TestReplayHistoryWithoutReconciliation(t *testing.T) {
	fifo, err := Replay(history(), MethodFIFO, Options{AllowNegativeStock: true})
	require.NoError(t, err)
	requireDecimal(t, "-5", fifo[3].QtyAfter)
	requireDecimal(t, "0", fifo[3].ValueAfter)
	requireDecimal(t, "10", fifo[4].QtyAfter)
	requireDecimal(t, "12000", fifo[4].ValueAfter)
	require.Len(t, fifo[4].Lots, 1)

	avg, err := Replay(history(), MethodMovingAverage, Options{AllowNegativeStock: true})
	require.NoError(t, err)
	requireDecimal(t, "900", avg[1].ValuationRate)
	requireDecimal(t, "-4500", avg[3].ValueAfter)
	requireDecimal(t, "1125", avg[4].ValuationRate)
	requireDecimal(t, "11250", avg[4].ValueAfter)
	require.Nil(t, avg[4].Lots)
}

func TestReplayIsDeterministic(t *testing.T) {
	steps := insertAt(history(), 2, reco("12", "950"))
	first, err := Replay(steps, MethodFIFO, Options{AllowNegativeStock: true})
	require.NoError(t, err)
	second, err := Replay(steps, MethodFIFO, Options{AllowNegativeStock: true})
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	for i := range first {
		requireDecimal(t, first[i].ValueAfter.String(), second[i].ValueAfter)
		requireDecimal(t, first[i].QtyAfter.String(), second[i].QtyAfter)
	}
}

func TestReplayMethodsAgreeOnSingleLot(t *testing.T) {
	steps := []Step{receipt("8", "125.5"), reco("", "130"), issue("3")}
	fifo, err := Replay(steps, MethodFIFO, Options{})
	require.NoError(t, err)
	avg, err := Replay(steps, MethodMovingAverage, Options{})
	require.NoError(t, err)
	for i := range steps {
		requireDecimal(t, fifo[i].ValueAfter.String(), avg[i].ValueAfter, "step", i)
		requireDecimal(t, fifo[i].ValuationRate.String(), avg[i].ValuationRate, "step", i)
	}
	requireDecimal(t, "650", fifo[2].ValueAfter)
}

func TestReplayReconciliationOnNegativeStock(t *testing.T) {
	cases := []struct {
		method     Method
		qty, rate  string
		qtyAfter   string
		valueAfter string
	}{
		{MethodFIFO, "", "800", "-5", "-4000"},
		{MethodMovingAverage, "", "800", "-5", "-4000"},
		{MethodFIFO, "0", "800", "0", "0"},
		{MethodMovingAverage, "0", "800", "0", "0"},
		{MethodFIFO, "3", "", "3", "0"},
		{MethodMovingAverage, "3", "", "3", "2700"},
	}
	for i, tc := range cases {
		steps := insertAt(history(), 4, reco(tc.qty, tc.rate))
		results, err := Replay(steps, tc.method, Options{AllowNegativeStock: true})
		require.NoError(t, err, "case %d", i)
		requireDecimal(t, "-5", results[3].QtyAfter, "case", i)
		requireDecimal(t, tc.qtyAfter, results[4].QtyAfter, "case", i)
		requireDecimal(t, tc.valueAfter, results[4].ValueAfter, "case", i)
	}
}

func TestReplayInsufficientStock(t *testing.T) {
	_, err := Replay(history(), MethodFIFO, Options{})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, 3, stepErr.Index)
}

func TestReplayEmptyReconciliation(t *testing.T) {
	_, err := Replay([]Step{receipt("1", "10"), reco("", "")}, MethodMovingAverage, Options{})
	require.ErrorIs(t, err, ErrEmptyReconciliation)
}

func TestReplayRejectsMalformedSteps(t *testing.T) {
	_, err := Replay([]Step{receipt("-1", "10")}, MethodFIFO, Options{})
	require.ErrorIs(t, err, ErrInvalidStep)

	_, err = Replay([]Step{{Kind: StepIssue, Qty: dec("2")}}, MethodFIFO, Options{})
	require.ErrorIs(t, err, ErrInvalidStep)

	_, err = Replay([]Step{reco("-3", "10")}, MethodFIFO, Options{})
	require.ErrorIs(t, err, ErrInvalidStep)

	_, err = Replay(history(), Method("LIFO"), Options{})
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestVerifyDetectsBrokenChain(t *testing.T) {
	steps := history()
	results, err := Replay(steps, MethodFIFO, Options{AllowNegativeStock: true})
	require.NoError(t, err)

	results[2].QtyAfter = results[2].QtyAfter.Add(decimal.NewFromInt(1))
	err = Verify(steps, results)
	require.ErrorIs(t, err, ErrInconsistentLedger)
}

func TestStateAt(t *testing.T) {
	state, err := StateAt(history(), 3, MethodMovingAverage, Options{AllowNegativeStock: true})
	require.NoError(t, err)
	requireDecimal(t, "15", state.QtyAfter)
	requireDecimal(t, "13500", state.ValueAfter)

	empty, err := StateAt(history(), 0, MethodMovingAverage, Options{})
	require.NoError(t, err)
	require.True(t, empty.QtyAfter.IsZero())
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" moving average ")
	require.NoError(t, err)
	require.Equal(t, MethodMovingAverage, m)

	m, err = ParseMethod("fifo")
	require.NoError(t, err)
	require.Equal(t, MethodFIFO, m)

	_, err = ParseMethod("lifo")
	require.ErrorIs(t, err, ErrUnknownMethod)
}
