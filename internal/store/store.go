package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nurisoft/contractdesk/internal/model"
)

// Sentinel errors shared by the SQLite and Postgres implementations. Callers
// test with eris.Is so wrapping stays transparent.
var (
	ErrNotFound        = eris.New("store: not found")
	ErrDuplicateNumber = eris.New("store: contract number already exists")
)

// ContractFilter specifies criteria for listing contracts.
type ContractFilter struct {
	ContractorName string `json:"contractor_name,omitempty"`
	ContractType   string `json:"contract_type,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for contracts, their payment
// schedules, and review corrections.
type Store interface {
	// Contracts
	CreateContract(ctx context.Context, c *model.Contract) error
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error)
	UpdateContract(ctx context.Context, c *model.Contract) error
	DeleteContract(ctx context.Context, id string) error

	// FindByContent returns the existing contract with the same contractor
	// name and contract date, or nil when no such contract exists.
	FindByContent(ctx context.Context, contractorName string, contractDate time.Time) (*model.Contract, error)

	// Payment schedules
	ReplaceSchedule(ctx context.Context, contractID string, entries []model.PaymentEntry) error
	ListSchedule(ctx context.Context, contractID string) ([]model.PaymentEntry, error)
	UpdatePaymentStatus(ctx context.Context, paymentID string, status model.PaymentStatus, paidDate *time.Time) error

	// Corrections
	SaveCorrections(ctx context.Context, contractID string, corrections model.CorrectionSet) error
	ListCorrections(ctx context.Context, contractID string) (model.CorrectionSet, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
