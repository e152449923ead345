package rules

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/salesdesk/internal/models"
)

func settings() models.Settings {
	return models.Settings{
		Currency:          "CAD",
		PricePerCaseCents: 5976,
		GSTRate:           0.05,
		QSTRate:           0.09975,
		CansPerCase:       24,
		MinCasesPerFlavor: 25,
	}
}

func TestValidateOrderLines(t *testing.T) {
	verr := ValidateOrderLines(nil, 25)
	require.NotNil(t, verr)
	require.Equal(t, "line_items", verr.Field)

	verr = ValidateOrderLines([]models.LineItem{{Flavor: " ", Cases: 30}}, 25)
	require.NotNil(t, verr)

	// Every offender is reported, not just the first
	verr = ValidateOrderLines([]models.LineItem{
		{Flavor: "Vanilla", Cases: 30},
		{Flavor: "Chocolate", Cases: 20},
		{Flavor: "Lime", Cases: 0},
	}, 25)
	require.NotNil(t, verr)
	require.Equal(t, []LineViolation{
		{Flavor: "Chocolate", Got: 20, Min: 25},
		{Flavor: "Lime", Got: 0, Min: 25},
	}, verr.Violations)
	require.Contains(t, verr.Error(), "Chocolate")
	require.Contains(t, verr.Error(), "Lime")

	require.Nil(t, ValidateOrderLines([]models.LineItem{
		{Flavor: "Vanilla", Cases: 25},
		{Flavor: "Chocolate", Cases: 40},
	}, 25))
}

func TestValidateTransitionSingleForwardStep(t *testing.T) {
	statuses := []models.OrderStatus{
		models.OrderDraft,
		models.OrderInvoiced,
		models.OrderPaid,
		models.OrderScheduled,
		models.OrderFulfilled,
	}
	for i, current := range statuses {
		for j, next := range statuses {
			err := ValidateTransition("O0001", current, next)
			if j == i+1 {
				require.Nil(t, err, "%s -> %s must be allowed", current, next)
				continue
			}
			require.NotNil(t, err, "%s -> %s must be refused", current, next)
			require.Equal(t, "order", err.Entity)
			require.Equal(t, string(current), err.Current)
			require.Equal(t, string(next), err.Requested)
		}
	}

	require.NotNil(t, ValidateTransition("O0001", models.OrderStatus("bogus"), models.OrderInvoiced))
}

func TestCanPrintRequiresPaidAndScheduled(t *testing.T) {
	cases := map[models.OrderStatus]bool{
		models.OrderDraft:     false,
		models.OrderInvoiced:  false,
		models.OrderPaid:      false,
		models.OrderScheduled: true,
		models.OrderFulfilled: true,
	}
	for status, want := range cases {
		got := CanPrint(models.Order{Status: status})
		require.Equal(t, want, got, "status %s", status)
	}
}

func TestComputeTotalsReferenceVector(t *testing.T) {
	// 30 cases at 59.76 CAD
	totals := ComputeTotals([]models.LineItem{{Flavor: "Vanilla", Cases: 30}}, settings())
	require.Equal(t, int64(179280), totals.SubtotalCents)
	require.Equal(t, int64(8964), totals.GSTCents)
	require.Equal(t, int64(17883), totals.QSTCents)
	require.Equal(t, int64(206127), totals.TotalCents)
	require.Equal(t, "CAD", totals.Currency)

	// Same totals regardless of how the cases split across lines
	split := ComputeTotals([]models.LineItem{
		{Flavor: "Vanilla", Cases: 12},
		{Flavor: "Chocolate", Cases: 18},
	}, settings())
	require.Equal(t, totals.TotalCents, split.TotalCents)
}

func TestComputeTotalsRoundsHalfUp(t *testing.T) {
	s := settings()
	s.PricePerCaseCents = 10
	s.GSTRate = 0.05
	s.QSTRate = 0

	// subtotal 10, GST 0.5 of a cent: half-up lands on 1
	totals := ComputeTotals([]models.LineItem{{Flavor: "Vanilla", Cases: 1}}, s)
	require.Equal(t, int64(10), totals.SubtotalCents)
	require.Equal(t, int64(1), totals.GSTCents)
	require.Equal(t, int64(0), totals.QSTCents)
	require.Equal(t, int64(11), totals.TotalCents)
}

func TestDollarsToCents(t *testing.T) {
	require.Equal(t, int64(5976), DollarsToCents(59.76))
	require.Equal(t, int64(6250), DollarsToCents(62.50))
	require.Equal(t, int64(0), DollarsToCents(0))
}

func TestClassifyErrorTaxonomy(t *testing.T) {
	require.Equal(t, "validation", Classify(NewValidation("field", "bad")))
	require.Equal(t, "invalid_state", Classify(&InvalidStateError{Entity: "order"}))
	require.Equal(t, "not_found", Classify(&NotFoundError{Table: "lead", ID: "L1"}))
	require.Equal(t, "authorization", Classify(&AuthorizationError{Actor: "U1"}))
	require.Equal(t, "internal", Classify(errors.New("disk on fire")))

	// Wrapped errors still classify by their underlying type
	wrapped := errors.Wrap(&NotFoundError{Table: "order", ID: "O1"}, "loading order")
	require.Equal(t, "not_found", Classify(wrapped))
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, "lead L0001 not found", (&NotFoundError{Table: "lead", ID: "L0001"}).Error())
	require.Equal(t, "order O0001: cannot move from draft to paid",
		(&InvalidStateError{Entity: "order", ID: "O0001", Current: "draft", Requested: "paid"}).Error())
	require.Contains(t, (&AuthorizationError{Actor: "U0002", Action: "fill_rep_info", Reason: "lead is assigned to someone else"}).Error(), "U0002")
	require.Equal(t, "business: business name required", NewValidation("business", "business name required").Error())
}
