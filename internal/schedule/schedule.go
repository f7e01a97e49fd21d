// Package schedule derives payment schedules from confirmed contract terms
// and contract-type template rules.
package schedule

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nurisoft/contractdesk/internal/model"
)

// DerivationContext is the full input to schedule derivation, built fresh
// from the contract and template on every derivation. Nothing in it is
// mutated incrementally; any input change means building a new context, which
// rules out order-of-update bugs between the derived fields.
type DerivationContext struct {
	ContractDate     time.Time
	InvestmentAmount int64
	Template         model.Template
}

// NewContext validates inputs and builds a derivation context.
func NewContext(contractDate time.Time, investmentAmount int64, tpl model.Template) (DerivationContext, error) {
	if contractDate.IsZero() {
		return DerivationContext{}, eris.New("schedule: contract date required")
	}
	if investmentAmount <= 0 {
		return DerivationContext{}, eris.New("schedule: investment amount must be positive")
	}
	if tpl.PeriodMonths <= 0 {
		return DerivationContext{}, eris.Errorf("schedule: template %q has no period", tpl.Name)
	}
	if tpl.UnitAmount <= 0 {
		return DerivationContext{}, eris.Errorf("schedule: template %q has no unit amount", tpl.Name)
	}
	if tpl.IntervalMonths <= 0 {
		tpl.IntervalMonths = 1
	}

	return DerivationContext{
		ContractDate:     contractDate,
		InvestmentAmount: investmentAmount,
		Template:         tpl,
	}, nil
}

// EndDate is the contract end: contract date plus the template period, minus
// one day.
func (c DerivationContext) EndDate() time.Time {
	return c.ContractDate.AddDate(0, c.Template.PeriodMonths, 0).AddDate(0, 0, -1)
}

// FirstPaymentDate is the contract date plus the template's first-payment
// offset in months.
func (c DerivationContext) FirstPaymentDate() time.Time {
	return c.ContractDate.AddDate(0, c.Template.FirstPaymentMonth, 0)
}

// MonthlyPayment is the per-month disbursement:
// round(per-unit rate × investment / unit amount).
func (c DerivationContext) MonthlyPayment() int64 {
	units := float64(c.InvestmentAmount) / float64(c.Template.UnitAmount)
	return int64(math.Round(float64(c.Template.PerUnitRate) * units))
}

// TotalMonthlyPayment is the monthly payment plus the template's other
// support amount.
func (c DerivationContext) TotalMonthlyPayment() int64 {
	return c.MonthlyPayment() + c.Template.OtherSupport
}

// Entries generates the payment schedule: one entry per template interval
// from the first payment date through the end date, 1-indexed in
// chronological order, all pending. Regenerating is a destructive replace of
// any prior schedule.
func (c DerivationContext) Entries(contractID string) []model.PaymentEntry {
	amount := c.TotalMonthlyPayment()
	end := c.EndDate()

	var entries []model.PaymentEntry
	n := 1
	for d := c.FirstPaymentDate(); !d.After(end); d = d.AddDate(0, c.Template.IntervalMonths, 0) {
		entries = append(entries, model.PaymentEntry{
			ContractID:    contractID,
			PaymentNumber: n,
			ScheduledDate: d,
			Amount:        amount,
			Status:        model.PaymentPending,
		})
		n++
	}
	return entries
}
