package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nurisoft/contractdesk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contracts (
	id                    TEXT PRIMARY KEY,
	contract_number       TEXT NOT NULL UNIQUE,
	contractor_name       TEXT NOT NULL,
	phone                 TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	address               TEXT NOT NULL DEFAULT '',
	contract_date         DATETIME NOT NULL,
	end_date              DATETIME NOT NULL,
	bank_name             TEXT NOT NULL DEFAULT '',
	account_number        TEXT NOT NULL DEFAULT '',
	contract_type         TEXT NOT NULL DEFAULT '',
	investment_amount     INTEGER NOT NULL DEFAULT 0,
	monthly_payment       INTEGER NOT NULL DEFAULT 0,
	other_support         INTEGER NOT NULL DEFAULT 0,
	total_monthly_payment INTEGER NOT NULL DEFAULT 0,
	unit_count            INTEGER NOT NULL DEFAULT 0,
	analysis_file_path    TEXT NOT NULL DEFAULT '',
	analysis_method       TEXT NOT NULL DEFAULT '',
	confidence_score      REAL NOT NULL DEFAULT 0,
	original_data         TEXT,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS payment_schedules (
	id             TEXT PRIMARY KEY,
	contract_id    TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	payment_number INTEGER NOT NULL,
	scheduled_date DATETIME NOT NULL,
	amount         INTEGER NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	paid_date      DATETIME,
	UNIQUE (contract_id, payment_number)
);

CREATE TABLE IF NOT EXISTS corrections (
	id          TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	field       TEXT NOT NULL,
	value       TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (contract_id, field)
);

CREATE INDEX IF NOT EXISTS idx_contracts_contractor_name ON contracts(contractor_name);
CREATE INDEX IF NOT EXISTS idx_contracts_contract_date ON contracts(contract_date);
CREATE INDEX IF NOT EXISTS idx_payment_schedules_contract_id ON payment_schedules(contract_id);
CREATE INDEX IF NOT EXISTS idx_corrections_contract_id ON corrections(contract_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const contractColumns = `id, contract_number, contractor_name, phone, email, address,
	contract_date, end_date, bank_name, account_number, contract_type,
	investment_amount, monthly_payment, other_support, total_monthly_payment, unit_count,
	analysis_file_path, analysis_method, confidence_score, original_data,
	created_at, updated_at`

func (s *SQLiteStore) CreateContract(ctx context.Context, c *model.Contract) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	originalJSON, err := marshalOriginal(c.OriginalData)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contracts (`+contractColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ContractNumber, c.ContractorName, c.Phone, c.Email, c.Address,
		c.ContractDate, c.EndDate, c.BankName, c.AccountNumber, c.ContractType,
		c.InvestmentAmount, c.MonthlyPayment, c.OtherSupport, c.TotalMonthlyPayment, c.UnitCount,
		c.AnalysisFilePath, string(c.AnalysisMethod), c.ConfidenceScore, originalJSON,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: contracts.contract_number") {
			return eris.Wrapf(ErrDuplicateNumber, "sqlite: %s", c.ContractNumber)
		}
		return eris.Wrap(err, "sqlite: insert contract")
	}
	return nil
}

func (s *SQLiteStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	return scanContract(row)
}

func (s *SQLiteStore) FindByContent(ctx context.Context, contractorName string, contractDate time.Time) (*model.Contract, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts
		 WHERE contractor_name = ? AND date(contract_date) = date(?)
		 LIMIT 1`,
		contractorName, contractDate,
	)
	c, err := scanContract(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE 1=1`
	var args []any

	if filter.ContractorName != "" {
		query += ` AND contractor_name LIKE ?`
		args = append(args, "%"+filter.ContractorName+"%")
	}
	if filter.ContractType != "" {
		query += ` AND contract_type = ?`
		args = append(args, filter.ContractType)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contracts")
	}
	defer rows.Close()

	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, eris.Wrap(rows.Err(), "sqlite: list contracts iterate")
}

func (s *SQLiteStore) UpdateContract(ctx context.Context, c *model.Contract) error {
	c.UpdatedAt = time.Now().UTC()

	originalJSON, err := marshalOriginal(c.OriginalData)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET
			contractor_name = ?, phone = ?, email = ?, address = ?,
			contract_date = ?, end_date = ?, bank_name = ?, account_number = ?, contract_type = ?,
			investment_amount = ?, monthly_payment = ?, other_support = ?, total_monthly_payment = ?,
			unit_count = ?, analysis_file_path = ?, analysis_method = ?, confidence_score = ?,
			original_data = ?, updated_at = ?
		 WHERE id = ?`,
		c.ContractorName, c.Phone, c.Email, c.Address,
		c.ContractDate, c.EndDate, c.BankName, c.AccountNumber, c.ContractType,
		c.InvestmentAmount, c.MonthlyPayment, c.OtherSupport, c.TotalMonthlyPayment,
		c.UnitCount, c.AnalysisFilePath, string(c.AnalysisMethod), c.ConfidenceScore,
		originalJSON, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update contract %s", c.ID)
	}
	return checkRowsAffected(res, "contract", c.ID)
}

func (s *SQLiteStore) DeleteContract(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete contract %s", id)
	}
	return checkRowsAffected(res, "contract", id)
}

func (s *SQLiteStore) ReplaceSchedule(ctx context.Context, contractID string, entries []model.PaymentEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace schedule")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM payment_schedules WHERE contract_id = ?`, contractID); err != nil {
		return eris.Wrapf(err, "sqlite: clear schedule for %s", contractID)
	}

	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.ContractID = contractID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO payment_schedules (id, contract_id, payment_number, scheduled_date, amount, status, paid_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ContractID, e.PaymentNumber, e.ScheduledDate, e.Amount, string(e.Status), e.PaidDate,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert payment %d for %s", e.PaymentNumber, contractID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace schedule")
}

func (s *SQLiteStore) ListSchedule(ctx context.Context, contractID string) ([]model.PaymentEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_id, payment_number, scheduled_date, amount, status, paid_date
		 FROM payment_schedules WHERE contract_id = ? ORDER BY payment_number`,
		contractID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list schedule for %s", contractID)
	}
	defer rows.Close()

	var entries []model.PaymentEntry
	for rows.Next() {
		var e model.PaymentEntry
		var status string
		var paidDate sql.NullTime
		if err := rows.Scan(&e.ID, &e.ContractID, &e.PaymentNumber, &e.ScheduledDate, &e.Amount, &status, &paidDate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan payment")
		}
		e.Status = model.PaymentStatus(status)
		if paidDate.Valid {
			t := paidDate.Time
			e.PaidDate = &t
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list schedule iterate")
}

func (s *SQLiteStore) UpdatePaymentStatus(ctx context.Context, paymentID string, status model.PaymentStatus, paidDate *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_schedules SET status = ?, paid_date = ? WHERE id = ?`,
		string(status), paidDate, paymentID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update payment %s", paymentID)
	}
	return checkRowsAffected(res, "payment", paymentID)
}

func (s *SQLiteStore) SaveCorrections(ctx context.Context, contractID string, corrections model.CorrectionSet) error {
	if len(corrections) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save corrections")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for field, value := range corrections {
		valueJSON, err := json.Marshal(value)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal correction %s", field)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO corrections (id, contract_id, field, value, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (contract_id, field) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
			uuid.New().String(), contractID, field, string(valueJSON), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save correction %s for %s", field, contractID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save corrections")
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, contractID string) (model.CorrectionSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM corrections WHERE contract_id = ?`, contractID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list corrections for %s", contractID)
	}
	defer rows.Close()

	set := model.CorrectionSet{}
	for rows.Next() {
		var field string
		var valueJSON sql.NullString
		if err := rows.Scan(&field, &valueJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		var value any
		if valueJSON.Valid {
			if err := json.Unmarshal([]byte(valueJSON.String), &value); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal correction %s", field)
			}
		}
		set[field] = value
	}
	return set, eris.Wrap(rows.Err(), "sqlite: list corrections iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func marshalOriginal(fm model.FieldMap) (sql.NullString, error) {
	if fm == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(fm)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "sqlite: marshal original data")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanContract(row scannable) (*model.Contract, error) {
	var c model.Contract
	var method string
	var originalJSON sql.NullString

	err := row.Scan(
		&c.ID, &c.ContractNumber, &c.ContractorName, &c.Phone, &c.Email, &c.Address,
		&c.ContractDate, &c.EndDate, &c.BankName, &c.AccountNumber, &c.ContractType,
		&c.InvestmentAmount, &c.MonthlyPayment, &c.OtherSupport, &c.TotalMonthlyPayment, &c.UnitCount,
		&c.AnalysisFilePath, &method, &c.ConfidenceScore, &originalJSON,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "contract")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan contract")
	}

	c.AnalysisMethod = model.Engine(method)
	if originalJSON.Valid {
		if err := json.Unmarshal([]byte(originalJSON.String), &c.OriginalData); err != nil {
			return nil, eris.Wrap(err, "unmarshal original data")
		}
	}
	return &c, nil
}
