/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces (affiliate.Directory, commission.Ledger, commission.Catalog).

PURPOSE:
  Production persistence. The same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  affiliates:     Directory records; sponsor_code is the relationship key
  commissions:    The commission ledger
  products:       Product records
  product_levels: Per-level rate tables, immutable after product creation

INVARIANTS ENFORCED BY SCHEMA:
  - affiliates.code UNIQUE: codes are the relationship key
  - idx_commissions_order_code_level UNIQUE: at most one ledger entry per
    (order, beneficiary, level) - the idempotency backstop; even a racing
    double-delivery cannot double-credit
  - idx_affiliates_sponsor: the reverse index the downline tree reads

MONEY:
  Stored as TEXT decimal strings, parsed with shopspring/decimal. SQLite
  has no decimal type; TEXT round-trips exactly.

CONCURRENCY:
  Uses a store-level mutex to serialize balance read-modify-writes. With
  PostgreSQL the same contract is met with SELECT ... FOR UPDATE per row.

WAL MODE:
  Opened with WAL so readers don't block behind the single writer.

MIGRATION:
  Schema is auto-migrated on New(). Use ":memory:" for tests.
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

	"github.com/netweave/affiliate-engine/affiliate"
	"github.com/netweave/affiliate-engine/commission"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes balance read-modify-writes
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to :memory: would get its own empty
	// database; pin the pool to one connection so migration and queries
	// see the same db.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS affiliates (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		sponsor_code TEXT,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		balance_pending TEXT NOT NULL DEFAULT '0',
		balance_available TEXT NOT NULL DEFAULT '0',
		total_earnings TEXT NOT NULL DEFAULT '0',
		direct_referral_count INTEGER NOT NULL DEFAULT 0,
		downline_count INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		joined_at TEXT NOT NULL
	);

	-- Reverse referral index: the downline tree's hot path
	CREATE INDEX IF NOT EXISTS idx_affiliates_sponsor
		ON affiliates(sponsor_code) WHERE sponsor_code IS NOT NULL;

	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		beneficiary_code TEXT NOT NULL,
		level INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one ledger entry per (order, beneficiary, level).
	-- Recomputing an order must be a no-op, never a duplicate credit.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_commissions_order_code_level
		ON commissions(order_id, beneficiary_code, level);

	CREATE INDEX IF NOT EXISTS idx_commissions_beneficiary
		ON commissions(beneficiary_code, status);
	CREATE INDEX IF NOT EXISTS idx_commissions_order
		ON commissions(order_id);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS product_levels (
		product_id TEXT NOT NULL REFERENCES products(id),
		level INTEGER NOT NULL,
		rate TEXT NOT NULL,
		PRIMARY KEY (product_id, level)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// AFFILIATE DIRECTORY
// =============================================================================

const affiliateColumns = `id, code, sponsor_code, name, email,
	balance_pending, balance_available, total_earnings,
	direct_referral_count, downline_count, active, joined_at`

func (s *Store) ByCode(ctx context.Context, code affiliate.Code) (*affiliate.Affiliate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+affiliateColumns+` FROM affiliates WHERE code = ?`, string(code))
	a, err := scanAffiliate(row)
	if err == sql.ErrNoRows {
		return nil, affiliate.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) DirectReferrals(ctx context.Context, code affiliate.Code) ([]*affiliate.Affiliate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+affiliateColumns+` FROM affiliates
		 WHERE sponsor_code = ?
		 ORDER BY joined_at, code`, string(code))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*affiliate.Affiliate, 0)
	for rows.Next() {
		a, err := scanAffiliate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) Insert(ctx context.Context, a *affiliate.Affiliate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO affiliates (`+affiliateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Code), nullString(string(a.SponsorCode)), a.Name, a.Email,
		a.BalancePending.Value.String(), a.BalanceAvailable.Value.String(),
		a.TotalEarnings.Value.String(),
		a.DirectReferralCount, a.DownlineCount, boolInt(a.Active),
		a.JoinedAt.UTC().Format(time.RFC3339Nano))
	if isUniqueConstraintError(err) {
		return affiliate.ErrDuplicateCode
	}
	return err
}

func (s *Store) IncrementCounters(ctx context.Context, code affiliate.Code, directDelta, downlineDelta int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE affiliates
		 SET direct_referral_count = direct_referral_count + ?,
		     downline_count = downline_count + ?
		 WHERE code = ?`, directDelta, downlineDelta, string(code))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return affiliate.ErrNotFound
	}
	return nil
}

// UpdateBalances applies all deltas in a single transaction. The store
// mutex serializes the read-modify-write so concurrent credits to the
// same affiliate never lose an update.
func (s *Store) UpdateBalances(ctx context.Context, code affiliate.Code, deltas map[affiliate.BalanceField]affiliate.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var pendingStr, availableStr, earningsStr string
	err = tx.QueryRowContext(ctx,
		`SELECT balance_pending, balance_available, total_earnings
		 FROM affiliates WHERE code = ?`, string(code)).
		Scan(&pendingStr, &availableStr, &earningsStr)
	if err == sql.ErrNoRows {
		return affiliate.ErrNotFound
	}
	if err != nil {
		return err
	}

	pending, err := parseMoney(pendingStr)
	if err != nil {
		return err
	}
	available, err := parseMoney(availableStr)
	if err != nil {
		return err
	}
	earnings, err := parseMoney(earningsStr)
	if err != nil {
		return err
	}

	for field, delta := range deltas {
		switch field {
		case affiliate.FieldPending:
			pending = pending.Add(delta)
		case affiliate.FieldAvailable:
			available = available.Add(delta)
		case affiliate.FieldEarnings:
			earnings = earnings.Add(delta)
		default:
			return affiliate.ErrUnknownField
		}
	}
	if pending.IsNegative() || available.IsNegative() {
		return affiliate.ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE affiliates
		 SET balance_pending = ?, balance_available = ?, total_earnings = ?
		 WHERE code = ?`,
		pending.Value.String(), available.Value.String(), earnings.Value.String(),
		string(code))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// COMMISSION LEDGER
// =============================================================================

func (s *Store) Append(ctx context.Context, c commission.Commission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commissions (id, order_id, beneficiary_code, level, amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrderID, string(c.BeneficiaryCode), c.Level,
		c.Amount.Value.String(), string(c.Status),
		c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if isUniqueConstraintError(err) {
		return commission.ErrDuplicateEntry
	}
	return err
}

func (s *Store) Remove(ctx context.Context, orderID string, code affiliate.Code, level int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM commissions WHERE order_id = ? AND beneficiary_code = ? AND level = ?`,
		orderID, string(code), level)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return commission.ErrEntryNotFound
	}
	return nil
}

const commissionColumns = `id, order_id, beneficiary_code, level, amount, status, created_at`

func (s *Store) Entry(ctx context.Context, id string) (commission.Commission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+commissionColumns+` FROM commissions WHERE id = ?`, id)
	c, err := scanCommission(row)
	if err == sql.ErrNoRows {
		return commission.Commission{}, commission.ErrEntryNotFound
	}
	return c, err
}

func (s *Store) ByOrder(ctx context.Context, orderID string) ([]commission.Commission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+commissionColumns+` FROM commissions
		 WHERE order_id = ? ORDER BY level`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCommissions(rows)
}

func (s *Store) ByBeneficiary(ctx context.Context, code affiliate.Code, status commission.Status) ([]commission.Commission, error) {
	query := `SELECT ` + commissionColumns + ` FROM commissions WHERE beneficiary_code = ?`
	args := []any{string(code)}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCommissions(rows)
}

func (s *Store) SetStatus(ctx context.Context, id string, from, to commission.Status) error {
	if !to.Valid() {
		return commission.ErrInvalidStatus
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE commissions SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish "missing" from "already transitioned".
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM commissions WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return commission.ErrEntryNotFound
		}
		return commission.ErrInvalidStatus
	}
	return nil
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (s *Store) Product(ctx context.Context, id string) (*commission.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, price, active, created_at FROM products WHERE id = ?`, id)

	var p commission.Product
	var price, createdAt string
	var active int
	err := row.Scan(&p.ID, &p.Name, &price, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, commission.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Price, err = parseMoney(price); err != nil {
		return nil, err
	}
	p.Active = active != 0
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if p.Levels, err = s.loadRateTable(ctx, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) loadRateTable(ctx context.Context, productID string) (commission.RateTable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT level, rate FROM product_levels WHERE product_id = ? ORDER BY level`, productID)
	if err != nil {
		return commission.RateTable{}, err
	}
	defer rows.Close()

	var pairs []commission.LevelRate
	for rows.Next() {
		var level int
		var rateStr string
		if err := rows.Scan(&level, &rateStr); err != nil {
			return commission.RateTable{}, err
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return commission.RateTable{}, err
		}
		pairs = append(pairs, commission.LevelRate{Level: level, Rate: rate})
	}
	if err := rows.Err(); err != nil {
		return commission.RateTable{}, err
	}
	return commission.NewRateTable(pairs)
}

func (s *Store) SaveProduct(ctx context.Context, p *commission.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO products (id, name, price, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Price.Value.String(), boolInt(p.Active),
		p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	for _, lr := range p.Levels.Levels() {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO product_levels (product_id, level, rate) VALUES (?, ?, ?)`,
			p.ID, lr.Level, lr.Rate.String())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Products(ctx context.Context) ([]*commission.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM products ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*commission.Product, 0, len(ids))
	for _, id := range ids {
		p, err := s.Product(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAffiliate(row rowScanner) (*affiliate.Affiliate, error) {
	var a affiliate.Affiliate
	var code string
	var sponsor sql.NullString
	var pending, available, earnings, joinedAt string
	var active int

	err := row.Scan(&a.ID, &code, &sponsor, &a.Name, &a.Email,
		&pending, &available, &earnings,
		&a.DirectReferralCount, &a.DownlineCount, &active, &joinedAt)
	if err != nil {
		return nil, err
	}

	a.Code = affiliate.Code(code)
	if sponsor.Valid {
		a.SponsorCode = affiliate.Code(sponsor.String)
	}
	if a.BalancePending, err = parseMoney(pending); err != nil {
		return nil, err
	}
	if a.BalanceAvailable, err = parseMoney(available); err != nil {
		return nil, err
	}
	if a.TotalEarnings, err = parseMoney(earnings); err != nil {
		return nil, err
	}
	a.Active = active != 0
	if a.JoinedAt, err = time.Parse(time.RFC3339Nano, joinedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanCommission(row rowScanner) (commission.Commission, error) {
	var c commission.Commission
	var code, amount, status, createdAt string

	err := row.Scan(&c.ID, &c.OrderID, &code, &c.Level, &amount, &status, &createdAt)
	if err != nil {
		return commission.Commission{}, err
	}
	c.BeneficiaryCode = affiliate.Code(code)
	if c.Amount, err = parseMoney(amount); err != nil {
		return commission.Commission{}, err
	}
	c.Status = commission.Status(status)
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return commission.Commission{}, err
	}
	return c, nil
}

func collectCommissions(rows *sql.Rows) ([]commission.Commission, error) {
	result := make([]commission.Commission, 0)
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func parseMoney(s string) (affiliate.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return affiliate.Money{}, fmt.Errorf("corrupt monetary value %q: %w", s, err)
	}
	return affiliate.NewMoney(d), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
