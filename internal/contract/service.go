// Package contract implements the save flow that turns a reviewed field map
// into a persisted contract with its payment schedule and correction audit
// trail.
package contract

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nurisoft/contractdesk/internal/model"
	"github.com/nurisoft/contractdesk/internal/resilience"
	"github.com/nurisoft/contractdesk/internal/review"
	"github.com/nurisoft/contractdesk/internal/schedule"
	"github.com/nurisoft/contractdesk/internal/store"
	"github.com/nurisoft/contractdesk/internal/template"
)

// ErrDuplicateContent signals a contract with the same contractor and
// contract date already exists. Never retried; the caller must surface it.
var ErrDuplicateContent = eris.New("contract: duplicate content")

// ValidationError reports missing or invalid required fields, keyed by field
// name. Produced before any write is attempted.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("contract: validation failed for %d field(s)", len(e.Fields))
}

// numberAttempts bounds the transparent contract-number collision retry.
const numberAttempts = 3

// SaveInput is the confirmed contract data arriving from review, plus the
// extraction audit trail.
type SaveInput struct {
	ContractorName string    `json:"contractor_name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email"`
	Address        string    `json:"address"`
	ContractDate   time.Time `json:"contract_date"`
	BankName       string    `json:"bank_name"`
	AccountNumber  string    `json:"account_number"`
	ContractType   string    `json:"contract_type"`

	InvestmentAmount int64 `json:"investment_amount"`
	UnitCount        int   `json:"unit_count"`

	AnalysisFilePath string              `json:"analysis_file_path,omitempty"`
	AnalysisMethod   model.Engine        `json:"analysis_method,omitempty"`
	ConfidenceScore  float64             `json:"confidence_score,omitempty"`
	OriginalData     model.FieldMap      `json:"original_data,omitempty"`
	Corrections      model.CorrectionSet `json:"corrections,omitempty"`
}

// Service coordinates validation, duplicate checks, number generation, and
// persistence of contracts with their derived schedules.
type Service struct {
	store     store.Store
	templates *template.Store
}

// NewService creates a contract service.
func NewService(st store.Store, templates *template.Store) *Service {
	return &Service{store: st, templates: templates}
}

// Save validates the input, rejects content duplicates, derives the payment
// schedule from the contract-type template, and persists the contract with a
// generated number. Number collisions are retried transparently with a fresh
// number; everything else fails fast.
func (s *Service) Save(ctx context.Context, in SaveInput) (*model.Contract, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	existing, err := s.store.FindByContent(ctx, in.ContractorName, in.ContractDate)
	if err != nil {
		return nil, eris.Wrap(err, "contract: duplicate check")
	}
	if existing != nil {
		return nil, eris.Wrapf(ErrDuplicateContent, "contractor %s on %s", in.ContractorName, in.ContractDate.Format("2006-01-02"))
	}

	tpl, err := s.templates.Get(in.ContractType)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{
			model.FieldContractType: fmt.Sprintf("unknown contract type %q", in.ContractType),
		}}
	}

	dc, err := schedule.NewContext(in.ContractDate, in.InvestmentAmount, tpl)
	if err != nil {
		return nil, eris.Wrap(err, "contract: derive schedule context")
	}

	c := &model.Contract{
		ContractorName:   in.ContractorName,
		Phone:            in.Phone,
		Email:            in.Email,
		Address:          in.Address,
		ContractDate:     in.ContractDate,
		EndDate:          dc.EndDate(),
		BankName:         in.BankName,
		AccountNumber:    in.AccountNumber,
		ContractType:     in.ContractType,
		InvestmentAmount: in.InvestmentAmount,
		MonthlyPayment:   dc.MonthlyPayment(),
		OtherSupport:     tpl.OtherSupport,
		UnitCount:        in.UnitCount,
		AnalysisFilePath: in.AnalysisFilePath,
		AnalysisMethod:   in.AnalysisMethod,
		ConfidenceScore:  in.ConfidenceScore,
		OriginalData:     in.OriginalData,
	}
	c.RecomputeTotal()

	policy := resilience.Policy{
		MaxAttempts:    numberAttempts,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		Multiplier:     2.0,
		ShouldRetry: func(err error) bool {
			return eris.Is(err, store.ErrDuplicateNumber)
		},
		OnRetry: func(attempt int, err error) {
			zap.L().Info("contract number collision, regenerating",
				zap.Int("attempt", attempt))
		},
	}
	_, err = resilience.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		c.ContractNumber = GenerateNumber(in.ContractDate)
		return struct{}{}, s.store.CreateContract(ctx, c)
	})
	if err != nil {
		return nil, eris.Wrap(err, "contract: save")
	}

	corrections := in.Corrections
	if len(corrections) > 0 && len(in.OriginalData) > 0 {
		// Corrections that restate the extracted value carry no audit signal.
		corrections = review.Diff(in.OriginalData, review.Apply(in.OriginalData, corrections))
	}
	if len(corrections) > 0 {
		if err := s.store.SaveCorrections(ctx, c.ID, corrections); err != nil {
			return nil, eris.Wrapf(err, "contract: save corrections for %s", c.ID)
		}
	}

	if err := s.store.ReplaceSchedule(ctx, c.ID, dc.Entries(c.ID)); err != nil {
		return nil, eris.Wrapf(err, "contract: save schedule for %s", c.ID)
	}

	zap.L().Info("contract saved",
		zap.String("id", c.ID),
		zap.String("number", c.ContractNumber),
		zap.String("type", c.ContractType))
	return c, nil
}

// Update applies edits to an existing contract. Payment terms stay derived:
// the total is recomputed and the schedule regenerated when the contract
// date, investment amount, or contract type changed.
func (s *Service) Update(ctx context.Context, id string, in SaveInput) (*model.Contract, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	c, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}

	termsChanged := !c.ContractDate.Equal(in.ContractDate) ||
		c.InvestmentAmount != in.InvestmentAmount ||
		c.ContractType != in.ContractType

	c.ContractorName = in.ContractorName
	c.Phone = in.Phone
	c.Email = in.Email
	c.Address = in.Address
	c.ContractDate = in.ContractDate
	c.BankName = in.BankName
	c.AccountNumber = in.AccountNumber
	c.ContractType = in.ContractType
	c.InvestmentAmount = in.InvestmentAmount
	c.UnitCount = in.UnitCount

	if termsChanged {
		tpl, err := s.templates.Get(in.ContractType)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{
				model.FieldContractType: fmt.Sprintf("unknown contract type %q", in.ContractType),
			}}
		}
		dc, err := schedule.NewContext(in.ContractDate, in.InvestmentAmount, tpl)
		if err != nil {
			return nil, eris.Wrap(err, "contract: derive schedule context")
		}
		c.EndDate = dc.EndDate()
		c.MonthlyPayment = dc.MonthlyPayment()
		c.OtherSupport = tpl.OtherSupport

		if err := s.store.ReplaceSchedule(ctx, c.ID, dc.Entries(c.ID)); err != nil {
			return nil, eris.Wrapf(err, "contract: regenerate schedule for %s", c.ID)
		}
	}
	c.RecomputeTotal()

	if err := s.store.UpdateContract(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RegenerateSchedule rebuilds the payment schedule from the contract's
// current terms. Destructive: previous entries, including paid marks, are
// replaced.
func (s *Service) RegenerateSchedule(ctx context.Context, id string) ([]model.PaymentEntry, error) {
	c, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}

	tpl, err := s.templates.Get(c.ContractType)
	if err != nil {
		return nil, eris.Wrapf(err, "contract: template for %s", c.ContractType)
	}
	dc, err := schedule.NewContext(c.ContractDate, c.InvestmentAmount, tpl)
	if err != nil {
		return nil, eris.Wrap(err, "contract: derive schedule context")
	}

	entries := dc.Entries(c.ID)
	if err := s.store.ReplaceSchedule(ctx, c.ID, entries); err != nil {
		return nil, eris.Wrapf(err, "contract: regenerate schedule for %s", c.ID)
	}
	return entries, nil
}

// MarkPayment updates a schedule entry's status. A paid status without an
// explicit paid date defaults to now.
func (s *Service) MarkPayment(ctx context.Context, paymentID string, status model.PaymentStatus, paidDate *time.Time) error {
	switch status {
	case model.PaymentPaid:
		if paidDate == nil {
			now := time.Now().UTC()
			paidDate = &now
		}
	case model.PaymentPending:
		paidDate = nil
	default:
		return &ValidationError{Fields: map[string]string{
			"status": fmt.Sprintf("unknown payment status %q", status),
		}}
	}
	return s.store.UpdatePaymentStatus(ctx, paymentID, status, paidDate)
}

// GenerateNumber produces a contract number of the form CT-YYYYMMDD-NNNN
// from the contract date plus a random 4-digit suffix.
func GenerateNumber(contractDate time.Time) string {
	return fmt.Sprintf("CT-%s-%04d", contractDate.Format("20060102"), rand.IntN(10000))
}

// validate checks the required fields one by one, collecting every failure
// so the caller can report them together.
func validate(in SaveInput) error {
	fields := map[string]string{}
	if in.ContractorName == "" {
		fields[model.FieldContractorName] = "contractor name is required"
	}
	if in.Phone == "" {
		fields[model.FieldPhone] = "phone is required"
	}
	if in.ContractDate.IsZero() {
		fields[model.FieldContractDate] = "contract date is required"
	}
	if in.InvestmentAmount <= 0 {
		fields[model.FieldInvestmentAmount] = "investment amount must be positive"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
