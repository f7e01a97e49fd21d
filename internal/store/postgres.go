package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/nurisoft/contractdesk/internal/db"
	"github.com/nurisoft/contractdesk/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_contract":          `SELECT ` + contractColumnsPG + ` FROM contracts WHERE id = $1`,
	"delete_contract":       `DELETE FROM contracts WHERE id = $1`,
	"list_schedule":         `SELECT id, contract_id, payment_number, scheduled_date, amount, status, paid_date FROM payment_schedules WHERE contract_id = $1 ORDER BY payment_number`,
	"update_payment_status": `UPDATE payment_schedules SET status = $1, paid_date = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contracts (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	contract_number       TEXT NOT NULL UNIQUE,
	contractor_name       TEXT NOT NULL,
	phone                 TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	address               TEXT NOT NULL DEFAULT '',
	contract_date         TIMESTAMPTZ NOT NULL,
	end_date              TIMESTAMPTZ NOT NULL,
	bank_name             TEXT NOT NULL DEFAULT '',
	account_number        TEXT NOT NULL DEFAULT '',
	contract_type         TEXT NOT NULL DEFAULT '',
	investment_amount     BIGINT NOT NULL DEFAULT 0,
	monthly_payment       BIGINT NOT NULL DEFAULT 0,
	other_support         BIGINT NOT NULL DEFAULT 0,
	total_monthly_payment BIGINT NOT NULL DEFAULT 0,
	unit_count            INTEGER NOT NULL DEFAULT 0,
	analysis_file_path    TEXT NOT NULL DEFAULT '',
	analysis_method       TEXT NOT NULL DEFAULT '',
	confidence_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	original_data         JSONB,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_schedules (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	contract_id    TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	payment_number INTEGER NOT NULL,
	scheduled_date TIMESTAMPTZ NOT NULL,
	amount         BIGINT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	paid_date      TIMESTAMPTZ,
	UNIQUE (contract_id, payment_number)
);

CREATE TABLE IF NOT EXISTS corrections (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	field       TEXT NOT NULL,
	value       JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (contract_id, field)
);

CREATE INDEX IF NOT EXISTS idx_contracts_contractor_name ON contracts(contractor_name);
CREATE INDEX IF NOT EXISTS idx_contracts_contract_date ON contracts(contract_date);
CREATE INDEX IF NOT EXISTS idx_payment_schedules_contract_id ON payment_schedules(contract_id);
CREATE INDEX IF NOT EXISTS idx_corrections_contract_id ON corrections(contract_id);
`

const contractColumnsPG = `id, contract_number, contractor_name, phone, email, address,
	contract_date, end_date, bank_name, account_number, contract_type,
	investment_amount, monthly_payment, other_support, total_monthly_payment, unit_count,
	analysis_file_path, analysis_method, confidence_score, original_data,
	created_at, updated_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	originalJSON, err := marshalOriginalPG(c.OriginalData)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO contracts (`+contractColumnsPG+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		c.ID, c.ContractNumber, c.ContractorName, c.Phone, c.Email, c.Address,
		c.ContractDate, c.EndDate, c.BankName, c.AccountNumber, c.ContractType,
		c.InvestmentAmount, c.MonthlyPayment, c.OtherSupport, c.TotalMonthlyPayment, c.UnitCount,
		c.AnalysisFilePath, string(c.AnalysisMethod), c.ConfidenceScore, originalJSON,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return eris.Wrapf(ErrDuplicateNumber, "postgres: %s", c.ContractNumber)
		}
		return eris.Wrap(err, "postgres: insert contract")
	}
	return nil
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contractColumnsPG+` FROM contracts WHERE id = $1`, id)
	return scanContractPG(row)
}

func (s *PostgresStore) FindByContent(ctx context.Context, contractorName string, contractDate time.Time) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contractColumnsPG+` FROM contracts
		 WHERE contractor_name = $1 AND contract_date::date = $2::date
		 LIMIT 1`,
		contractorName, contractDate,
	)
	c, err := scanContractPG(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error) {
	query := `SELECT ` + contractColumnsPG + ` FROM contracts WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ContractorName != "" {
		query += fmt.Sprintf(` AND contractor_name LIKE $%d`, argIdx)
		args = append(args, "%"+filter.ContractorName+"%")
		argIdx++
	}
	if filter.ContractType != "" {
		query += fmt.Sprintf(` AND contract_type = $%d`, argIdx)
		args = append(args, filter.ContractType)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contracts")
	}
	defer rows.Close()

	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContractPG(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, eris.Wrap(rows.Err(), "postgres: list contracts iterate")
}

func (s *PostgresStore) UpdateContract(ctx context.Context, c *model.Contract) error {
	c.UpdatedAt = time.Now().UTC()

	originalJSON, err := marshalOriginalPG(c.OriginalData)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts SET
			contractor_name = $1, phone = $2, email = $3, address = $4,
			contract_date = $5, end_date = $6, bank_name = $7, account_number = $8, contract_type = $9,
			investment_amount = $10, monthly_payment = $11, other_support = $12, total_monthly_payment = $13,
			unit_count = $14, analysis_file_path = $15, analysis_method = $16, confidence_score = $17,
			original_data = $18, updated_at = $19
		 WHERE id = $20`,
		c.ContractorName, c.Phone, c.Email, c.Address,
		c.ContractDate, c.EndDate, c.BankName, c.AccountNumber, c.ContractType,
		c.InvestmentAmount, c.MonthlyPayment, c.OtherSupport, c.TotalMonthlyPayment,
		c.UnitCount, c.AnalysisFilePath, string(c.AnalysisMethod), c.ConfidenceScore,
		originalJSON, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update contract %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contract %s", c.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteContract(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM contracts WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete contract %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contract %s", id)
	}
	return nil
}

func (s *PostgresStore) ReplaceSchedule(ctx context.Context, contractID string, entries []model.PaymentEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace schedule")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM payment_schedules WHERE contract_id = $1`, contractID); err != nil {
		return eris.Wrapf(err, "postgres: clear schedule for %s", contractID)
	}

	rows := make([][]any, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.ContractID = contractID
		rows[i] = []any{e.ID, e.ContractID, e.PaymentNumber, e.ScheduledDate, e.Amount, string(e.Status), e.PaidDate}
	}
	if len(rows) > 0 {
		cols := []string{"id", "contract_id", "payment_number", "scheduled_date", "amount", "status", "paid_date"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"payment_schedules"}, cols, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrapf(err, "postgres: copy schedule for %s", contractID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace schedule")
}

func (s *PostgresStore) ListSchedule(ctx context.Context, contractID string) ([]model.PaymentEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contract_id, payment_number, scheduled_date, amount, status, paid_date
		 FROM payment_schedules WHERE contract_id = $1 ORDER BY payment_number`,
		contractID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list schedule for %s", contractID)
	}
	defer rows.Close()

	var entries []model.PaymentEntry
	for rows.Next() {
		var e model.PaymentEntry
		var status string
		if err := rows.Scan(&e.ID, &e.ContractID, &e.PaymentNumber, &e.ScheduledDate, &e.Amount, &status, &e.PaidDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan payment")
		}
		e.Status = model.PaymentStatus(status)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list schedule iterate")
}

func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, paymentID string, status model.PaymentStatus, paidDate *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_schedules SET status = $1, paid_date = $2 WHERE id = $3`,
		string(status), paidDate, paymentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update payment %s", paymentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "payment %s", paymentID)
	}
	return nil
}

func (s *PostgresStore) SaveCorrections(ctx context.Context, contractID string, corrections model.CorrectionSet) error {
	if len(corrections) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(corrections))
	for field, value := range corrections {
		valueJSON, err := json.Marshal(value)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal correction %s", field)
		}
		rows = append(rows, []any{uuid.New().String(), contractID, field, valueJSON, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "corrections",
		Columns:      []string{"id", "contract_id", "field", "value", "created_at"},
		ConflictKeys: []string{"contract_id", "field"},
		UpdateCols:   []string{"value", "created_at"},
	}, rows)
	return eris.Wrapf(err, "postgres: save corrections for %s", contractID)
}

func (s *PostgresStore) ListCorrections(ctx context.Context, contractID string) (model.CorrectionSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, value FROM corrections WHERE contract_id = $1`, contractID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list corrections for %s", contractID)
	}
	defer rows.Close()

	set := model.CorrectionSet{}
	for rows.Next() {
		var field string
		var valueJSON []byte
		if err := rows.Scan(&field, &valueJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		var value any
		if len(valueJSON) > 0 {
			if err := json.Unmarshal(valueJSON, &value); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal correction %s", field)
			}
		}
		set[field] = value
	}
	return set, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

// helpers

func marshalOriginalPG(fm model.FieldMap) ([]byte, error) {
	if fm == nil {
		return nil, nil
	}
	b, err := json.Marshal(fm)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal original data")
	}
	return b, nil
}

func scanContractPG(row pgx.Row) (*model.Contract, error) {
	var c model.Contract
	var method string
	var originalJSON []byte

	err := row.Scan(
		&c.ID, &c.ContractNumber, &c.ContractorName, &c.Phone, &c.Email, &c.Address,
		&c.ContractDate, &c.EndDate, &c.BankName, &c.AccountNumber, &c.ContractType,
		&c.InvestmentAmount, &c.MonthlyPayment, &c.OtherSupport, &c.TotalMonthlyPayment, &c.UnitCount,
		&c.AnalysisFilePath, &method, &c.ConfidenceScore, &originalJSON,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "contract")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan contract")
	}

	c.AnalysisMethod = model.Engine(method)
	if len(originalJSON) > 0 {
		if err := json.Unmarshal(originalJSON, &c.OriginalData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal original data")
		}
	}
	return &c, nil
}
