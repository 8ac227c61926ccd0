/*
Package sqlite provides a SQLite-backed implementation of the fee engine's
storage interfaces.

PURPOSE:
  Implements fee.RuleStore, fee.RecordStore, fee.TransactionSource, and
  fee.CardDirectory using SQLite. In production the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  annual_fee_rules:    Rule definitions, one per card, typed condition columns
  annual_fee_records:  One fee cycle per (card, fee year)
  cards:               Card collaborator data
  card_transactions:   Transaction collaborator data (qualifying-set queries)

PROGRESS STORAGE:
  current_progress is stored as an INTEGER in hundredths. That makes the
  incremental path a genuine single-row atomic add:

      UPDATE annual_fee_records
         SET current_progress = current_progress + ?

  with exact integer arithmetic. No read-modify-write across a round
  trip, no binary-float drift. Monetary columns are decimal strings; they
  are never arithmetic targets in SQL.

UNIQUENESS:
  UNIQUE(card_id, fee_year) on records enforces the one-record-per-cycle
  invariant at the storage layer; violations surface as
  fee.BusinessRuleError with code duplicate_record. The UNIQUE card_id on
  rules enforces one rule per card the same way.

WAL MODE:
  SQLite is opened with WAL so readers don't block the single writer,
  which suits the read-mostly rule store and readers that tolerate
  momentarily stale progress.

USAGE:
  store, err := sqlite.New("./data/annualfee.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - fee/store.go: Interface definitions and the concurrency contract
  - fee/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/annualfee-engine/fee"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Interface checks.
var (
	_ fee.RuleStore         = (*Store)(nil)
	_ fee.RecordStore       = (*Store)(nil)
	_ fee.TransactionSource = (*Store)(nil)
	_ fee.CardDirectory     = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Cards (card collaborator data)
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		bank TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cards_user ON cards(user_id);

	-- Annual fee rules: one per card, typed condition columns per fee type
	CREATE TABLE IF NOT EXISTS annual_fee_rules (
		id TEXT PRIMARY KEY,
		card_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		fee_type TEXT NOT NULL,
		base_fee TEXT NOT NULL,
		target_count INTEGER,
		target_amount TEXT,
		points_per_yuan TEXT,
		annual_fee_month INTEGER,
		annual_fee_day INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (card_id) REFERENCES cards(id)
	);

	CREATE INDEX IF NOT EXISTS idx_rules_fee_type ON annual_fee_rules(fee_type);

	-- Annual fee records: one per (card, fee year)
	-- current_progress is INTEGER hundredths for atomic increments
	CREATE TABLE IF NOT EXISTS annual_fee_records (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		card_id TEXT NOT NULL,
		fee_year INTEGER NOT NULL,
		base_fee TEXT NOT NULL,
		actual_fee TEXT NOT NULL,
		waiver_amount TEXT NOT NULL,
		current_progress INTEGER NOT NULL DEFAULT 0,
		waiver_status TEXT NOT NULL DEFAULT 'pending',
		due_date TEXT NOT NULL,
		payment_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(card_id, fee_year),
		FOREIGN KEY (rule_id) REFERENCES annual_fee_rules(id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_rule ON annual_fee_records(rule_id);
	CREATE INDEX IF NOT EXISTS idx_records_status ON annual_fee_records(waiver_status);
	CREATE INDEX IF NOT EXISTS idx_records_card_year ON annual_fee_records(card_id, fee_year);

	-- Card transactions (transaction collaborator data)
	CREATE TABLE IF NOT EXISTS card_transactions (
		id TEXT PRIMARY KEY,
		card_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot path: qualifying-set scan for (card, fee year)
	CREATE INDEX IF NOT EXISTS idx_transactions_card_date
		ON card_transactions(card_id, transaction_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RULE STORE (fee.RuleStore interface)
// =============================================================================

const ruleColumns = `id, card_id, name, fee_type, base_fee, target_count,
	target_amount, points_per_yuan, annual_fee_month, annual_fee_day,
	created_at, updated_at`

// SaveRule inserts a new rule. A second rule for the same card surfaces
// as a duplicate_rule business-rule error.
func (s *Store) SaveRule(ctx context.Context, rule *fee.AnnualFeeRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetCount, targetAmount, pointsRate := conditionColumns(rule.Condition)

	query := `
		INSERT INTO annual_fee_rules
		(id, card_id, name, fee_type, base_fee, target_count, target_amount,
		 points_per_yuan, annual_fee_month, annual_fee_day, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rule.ID,
		rule.CardID,
		rule.Name,
		rule.FeeType,
		rule.BaseFee.StringFixed(fee.MoneyScale),
		targetCount,
		targetAmount,
		pointsRate,
		nullMonth(rule.AnnualFeeMonth),
		nullInt(rule.AnnualFeeDay),
		rule.CreatedAt.UTC().Format(time.RFC3339),
		rule.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &fee.BusinessRuleError{
				Code:    fee.CodeDuplicateRule,
				Message: "card already has an annual fee rule",
			}
		}
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// UpdateRule overwrites an existing rule.
func (s *Store) UpdateRule(ctx context.Context, rule *fee.AnnualFeeRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetCount, targetAmount, pointsRate := conditionColumns(rule.Condition)

	query := `
		UPDATE annual_fee_rules
		SET name = ?, fee_type = ?, base_fee = ?, target_count = ?,
		    target_amount = ?, points_per_yuan = ?, annual_fee_month = ?,
		    annual_fee_day = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		rule.Name,
		rule.FeeType,
		rule.BaseFee.StringFixed(fee.MoneyScale),
		targetCount,
		targetAmount,
		pointsRate,
		nullMonth(rule.AnnualFeeMonth),
		nullInt(rule.AnnualFeeDay),
		rule.UpdatedAt.UTC().Format(time.RFC3339),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &fee.ResourceNotFoundError{Resource: "rule", ID: string(rule.ID)}
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id fee.RuleID) (*fee.AnnualFeeRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM annual_fee_rules WHERE id = ?", id)
	return scanRule(row)
}

// GetRuleByCard retrieves the rule attached to a card.
func (s *Store) GetRuleByCard(ctx context.Context, cardID fee.CardID) (*fee.AnnualFeeRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM annual_fee_rules WHERE card_id = ?", cardID)
	return scanRule(row)
}

// ListRules returns a page of rules plus the unpaged total.
func (s *Store) ListRules(ctx context.Context, filter fee.RuleFilter) ([]*fee.AnnualFeeRule, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"1=1"}
	var args []any
	if filter.FeeType != nil {
		where = append(where, "fee_type = ?")
		args = append(args, *filter.FeeType)
	}
	if filter.Keyword != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+filter.Keyword+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM annual_fee_rules WHERE "+cond, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rules: %w", err)
	}

	query := "SELECT " + ruleColumns + " FROM annual_fee_rules WHERE " + cond +
		" ORDER BY created_at ASC LIMIT ? OFFSET ?"
	args = append(args, fee.PageLimit(filter.PageSize), fee.PageOffset(filter.Page, filter.PageSize))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*fee.AnnualFeeRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		rules = append(rules, rule)
	}
	return rules, total, rows.Err()
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id fee.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM annual_fee_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &fee.ResourceNotFoundError{Resource: "rule", ID: string(id)}
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*fee.AnnualFeeRule, error) {
	var (
		rule         fee.AnnualFeeRule
		baseFee      string
		targetCount  sql.NullInt64
		targetAmount sql.NullString
		pointsRate   sql.NullString
		anchorMonth  sql.NullInt64
		anchorDay    sql.NullInt64
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&rule.ID, &rule.CardID, &rule.Name, &rule.FeeType, &baseFee,
		&targetCount, &targetAmount, &pointsRate, &anchorMonth, &anchorDay,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.BaseFee = fee.MustMoney(baseFee)

	switch rule.FeeType {
	case fee.FeeTransactionCount:
		rule.Condition = fee.TransactionCountCondition{Target: targetCount.Int64}
	case fee.FeeTransactionAmount:
		rule.Condition = fee.TransactionAmountCondition{Target: fee.MustMoney(targetAmount.String)}
	case fee.FeePointsExchange:
		rule.Condition = fee.PointsExchangeCondition{PointsPerYuan: fee.MustMoney(pointsRate.String)}
	default:
		rule.Condition = fee.RigidCondition{}
	}

	if anchorMonth.Valid {
		m := time.Month(anchorMonth.Int64)
		rule.AnnualFeeMonth = &m
	}
	if anchorDay.Valid {
		d := int(anchorDay.Int64)
		rule.AnnualFeeDay = &d
	}

	rule.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rule.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rule, nil
}

// conditionColumns flattens the condition union into nullable columns.
func conditionColumns(cond fee.WaiverCondition) (targetCount, targetAmount, pointsRate any) {
	switch c := cond.(type) {
	case fee.TransactionCountCondition:
		return c.Target, nil, nil
	case fee.TransactionAmountCondition:
		return nil, c.Target.StringFixed(fee.MoneyScale), nil
	case fee.PointsExchangeCondition:
		return nil, nil, c.PointsPerYuan.String()
	default:
		return nil, nil, nil
	}
}

// =============================================================================
// RECORD STORE (fee.RecordStore interface)
// =============================================================================

const recordColumns = `id, rule_id, card_id, fee_year, base_fee, actual_fee,
	waiver_amount, current_progress, waiver_status, due_date, payment_date,
	created_at, updated_at`

// SaveRecord inserts a new record. A (card, fee year) collision surfaces
// as a duplicate_record business-rule error.
func (s *Store) SaveRecord(ctx context.Context, rec *fee.AnnualFeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO annual_fee_records
		(id, rule_id, card_id, fee_year, base_fee, actual_fee, waiver_amount,
		 current_progress, waiver_status, due_date, payment_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.RuleID,
		rec.CardID,
		rec.FeeYear,
		rec.BaseFee.StringFixed(fee.MoneyScale),
		rec.ActualFee.StringFixed(fee.MoneyScale),
		rec.WaiverAmount.StringFixed(fee.MoneyScale),
		toHundredths(rec.CurrentProgress),
		rec.WaiverStatus,
		rec.DueDate.UTC().Format("2006-01-02"),
		nullDate(rec.PaymentDate),
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &fee.BusinessRuleError{
				Code:    fee.CodeDuplicateRecord,
				Message: "record already exists for this card and fee year",
			}
		}
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// UpdateRecord overwrites status, money, and payment fields. Progress is
// deliberately excluded: it is owned by IncrementProgress/SetProgress, so
// a stale read in the caller cannot clobber a concurrent add.
func (s *Store) UpdateRecord(ctx context.Context, rec *fee.AnnualFeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE annual_fee_records
		SET base_fee = ?, actual_fee = ?, waiver_amount = ?, waiver_status = ?,
		    due_date = ?, payment_date = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.BaseFee.StringFixed(fee.MoneyScale),
		rec.ActualFee.StringFixed(fee.MoneyScale),
		rec.WaiverAmount.StringFixed(fee.MoneyScale),
		rec.WaiverStatus,
		rec.DueDate.UTC().Format("2006-01-02"),
		nullDate(rec.PaymentDate),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &fee.ResourceNotFoundError{Resource: "record", ID: string(rec.ID)}
	}
	return nil
}

// GetRecord retrieves a record by ID.
func (s *Store) GetRecord(ctx context.Context, id fee.RecordID) (*fee.AnnualFeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM annual_fee_records WHERE id = ?", id)
	return scanRecord(row)
}

// GetRecordByCardYear retrieves the unique record for (card, fee year).
func (s *Store) GetRecordByCardYear(ctx context.Context, cardID fee.CardID, feeYear int) (*fee.AnnualFeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM annual_fee_records WHERE card_id = ? AND fee_year = ?",
		cardID, feeYear)
	return scanRecord(row)
}

// ListRecords returns a page of records plus the unpaged total. Keyword
// matches the card name, which needs a join.
func (s *Store) ListRecords(ctx context.Context, filter fee.RecordFilter) ([]*fee.AnnualFeeRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"1=1"}
	var args []any
	if filter.CardID != nil {
		where = append(where, "r.card_id = ?")
		args = append(args, *filter.CardID)
	}
	if filter.FeeYear != nil {
		where = append(where, "r.fee_year = ?")
		args = append(args, *filter.FeeYear)
	}
	if filter.Status != nil {
		where = append(where, "r.waiver_status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Keyword != "" {
		where = append(where, "c.name LIKE ?")
		args = append(args, "%"+filter.Keyword+"%")
	}
	cond := strings.Join(where, " AND ")

	base := "FROM annual_fee_records r LEFT JOIN cards c ON c.id = r.card_id WHERE " + cond

	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	cols := `r.id, r.rule_id, r.card_id, r.fee_year, r.base_fee, r.actual_fee,
		r.waiver_amount, r.current_progress, r.waiver_status, r.due_date,
		r.payment_date, r.created_at, r.updated_at`
	query := "SELECT " + cols + " " + base +
		" ORDER BY r.fee_year DESC, r.created_at ASC LIMIT ? OFFSET ?"
	args = append(args, fee.PageLimit(filter.PageSize), fee.PageOffset(filter.Page, filter.PageSize))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*fee.AnnualFeeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// CountRecordsForRule reports how many records reference a rule.
func (s *Store) CountRecordsForRule(ctx context.Context, ruleID fee.RuleID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM annual_fee_records WHERE rule_id = ?", ruleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// IncrementProgress is the single-row atomic add of the incremental path.
func (s *Store) IncrementProgress(ctx context.Context, id fee.RecordID, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE annual_fee_records SET current_progress = current_progress + ?, updated_at = ? WHERE id = ?",
		toHundredths(delta), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to increment progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &fee.ResourceNotFoundError{Resource: "record", ID: string(id)}
	}
	return nil
}

// SetProgress overwrites current_progress with an authoritative value.
func (s *Store) SetProgress(ctx context.Context, id fee.RecordID, progress decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE annual_fee_records SET current_progress = ?, updated_at = ? WHERE id = ?",
		toHundredths(progress), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &fee.ResourceNotFoundError{Resource: "record", ID: string(id)}
	}
	return nil
}

// DeleteRecord removes a record.
func (s *Store) DeleteRecord(ctx context.Context, id fee.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM annual_fee_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &fee.ResourceNotFoundError{Resource: "record", ID: string(id)}
	}
	return nil
}

func scanRecord(row scanner) (*fee.AnnualFeeRecord, error) {
	var (
		rec          fee.AnnualFeeRecord
		baseFee      string
		actualFee    string
		waiverAmount string
		progress     int64
		dueDate      string
		paymentDate  sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&rec.ID, &rec.RuleID, &rec.CardID, &rec.FeeYear, &baseFee, &actualFee,
		&waiverAmount, &progress, &rec.WaiverStatus, &dueDate, &paymentDate,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.BaseFee = fee.MustMoney(baseFee)
	rec.ActualFee = fee.MustMoney(actualFee)
	rec.WaiverAmount = fee.MustMoney(waiverAmount)
	rec.CurrentProgress = fromHundredths(progress)
	rec.DueDate, _ = time.Parse("2006-01-02", dueDate)
	if paymentDate.Valid && paymentDate.String != "" {
		t, _ := time.Parse("2006-01-02", paymentDate.String)
		rec.PaymentDate = &t
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

// =============================================================================
// CARD DIRECTORY (fee.CardDirectory interface)
// =============================================================================

// SaveCard inserts or updates a card.
func (s *Store) SaveCard(ctx context.Context, card *fee.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO cards (id, user_id, name, bank, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			bank = excluded.bank
	`
	_, err := s.db.ExecContext(ctx, query,
		card.ID, card.UserID, card.Name, card.Bank,
		card.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

// GetCard retrieves a card by ID.
func (s *Store) GetCard(ctx context.Context, id fee.CardID) (*fee.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		card      fee.Card
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, name, bank, created_at FROM cards WHERE id = ?", id,
	).Scan(&card.ID, &card.UserID, &card.Name, &card.Bank, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	card.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &card, nil
}

// CardsForUser lists a user's cards.
func (s *Store) CardsForUser(ctx context.Context, userID fee.UserID) ([]*fee.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, bank, created_at FROM cards WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []*fee.Card
	for rows.Next() {
		var (
			card      fee.Card
			createdAt string
		)
		if err := rows.Scan(&card.ID, &card.UserID, &card.Name, &card.Bank, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		card.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		cards = append(cards, &card)
	}
	return cards, rows.Err()
}

// =============================================================================
// TRANSACTION SOURCE (fee.TransactionSource interface)
// =============================================================================

// SaveTransaction inserts or updates a collaborator transaction.
func (s *Store) SaveTransaction(ctx context.Context, tx *fee.CardTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO card_transactions (id, card_id, amount, tx_type, status, transaction_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			card_id = excluded.card_id,
			amount = excluded.amount,
			tx_type = excluded.tx_type,
			status = excluded.status,
			transaction_date = excluded.transaction_date
	`
	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.CardID, tx.Amount.StringFixed(fee.MoneyScale), tx.Type, tx.Status,
		tx.TransactionDate.UTC().Format("2006-01-02"),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id fee.TransactionID) (*fee.CardTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		tx     fee.CardTransaction
		amount string
		date   string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, card_id, amount, tx_type, status, transaction_date FROM card_transactions WHERE id = ?", id,
	).Scan(&tx.ID, &tx.CardID, &amount, &tx.Type, &tx.Status, &date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx.Amount = fee.MustMoney(amount)
	tx.TransactionDate, _ = time.Parse("2006-01-02", date)
	return &tx, nil
}

// DeleteTransaction removes a collaborator transaction.
func (s *Store) DeleteTransaction(ctx context.Context, id fee.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM card_transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &fee.ResourceNotFoundError{Resource: "transaction", ID: string(id)}
	}
	return nil
}

// QualifyingTransactions returns the completed expenses for a card dated
// within the fee year, ordered by date.
func (s *Store) QualifyingTransactions(ctx context.Context, cardID fee.CardID, feeYear int) ([]fee.CardTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := fee.FeeYearBounds(feeYear)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, amount, tx_type, status, transaction_date
		FROM card_transactions
		WHERE card_id = ? AND tx_type = ? AND status = ?
		  AND transaction_date >= ? AND transaction_date <= ?
		ORDER BY transaction_date ASC`,
		cardID, fee.TxExpense, fee.TxCompleted,
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []fee.CardTransaction
	for rows.Next() {
		var (
			tx     fee.CardTransaction
			amount string
			date   string
		)
		if err := rows.Scan(&tx.ID, &tx.CardID, &amount, &tx.Type, &tx.Status, &date); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount = fee.MustMoney(amount)
		tx.TransactionDate, _ = time.Parse("2006-01-02", date)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// toHundredths converts a 2dp decimal to integer hundredths for exact SQL
// arithmetic.
func toHundredths(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromHundredths(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02")
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullMonth(m *time.Month) any {
	if m == nil {
		return nil
	}
	return int(*m)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
