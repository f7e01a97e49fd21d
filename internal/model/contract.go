package model

import "time"

// PaymentStatus is the disbursement state of a scheduled payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Contract is the confirmed, persisted entity built from reviewed extraction
// fields plus a generated contract number and payment terms.
type Contract struct {
	ID             string `json:"id"`
	ContractNumber string `json:"contract_number"`

	ContractorName string    `json:"contractor_name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email"`
	Address        string    `json:"address"`
	ContractDate   time.Time `json:"contract_date"`
	EndDate        time.Time `json:"end_date"`
	BankName       string    `json:"bank_name"`
	AccountNumber  string    `json:"account_number"`
	ContractType   string    `json:"contract_type"`

	InvestmentAmount int64 `json:"investment_amount"`
	MonthlyPayment   int64 `json:"monthly_payment"`
	OtherSupport     int64 `json:"other_support"`
	// TotalMonthlyPayment is always MonthlyPayment + OtherSupport. It is
	// recomputed on every write, never stored independently of the formula.
	TotalMonthlyPayment int64 `json:"total_monthly_payment"`
	UnitCount           int   `json:"unit_count"`

	// Extraction audit trail.
	AnalysisFilePath string   `json:"analysis_file_path,omitempty"`
	AnalysisMethod   Engine   `json:"analysis_method,omitempty"`
	ConfidenceScore  float64  `json:"confidence_score,omitempty"`
	OriginalData     FieldMap `json:"original_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecomputeTotal restores the total-monthly-payment invariant after either
// operand changes.
func (c *Contract) RecomputeTotal() {
	c.TotalMonthlyPayment = c.MonthlyPayment + c.OtherSupport
}

// PaymentEntry is one row of a derived payment schedule, 1-indexed in
// chronological order.
type PaymentEntry struct {
	ID            string        `json:"id"`
	ContractID    string        `json:"contract_id"`
	PaymentNumber int           `json:"payment_number"`
	ScheduledDate time.Time     `json:"scheduled_date"`
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	PaidDate      *time.Time    `json:"paid_date,omitempty"`
}

// Template is the per-contract-type rule set driving schedule derivation.
type Template struct {
	Name              string `yaml:"name" json:"name"`
	PeriodMonths      int    `yaml:"period_months" json:"period_months"`
	FirstPaymentMonth int    `yaml:"first_payment_offset_months" json:"first_payment_offset_months"`
	IntervalMonths    int    `yaml:"interval_months" json:"interval_months"`
	UnitAmount        int64  `yaml:"unit_amount" json:"unit_amount"`
	PerUnitRate       int64  `yaml:"per_unit_rate" json:"per_unit_rate"`
	OtherSupport      int64  `yaml:"other_support" json:"other_support"`
}
