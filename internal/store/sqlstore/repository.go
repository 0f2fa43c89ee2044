// Package sqlstore is the database/sql record store. It runs on SQLite
// (modernc.org/sqlite) or PostgreSQL (lib/pq) with the same schema; amounts
// are stored as decimal text and dates as YYYY-MM-DD text.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Store = (*Store)(nil)

// OpenSQLite opens (creating if needed) the database file at dbPath and migrates it.
func OpenSQLite(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection serializes transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(SQLite, dsn); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: SQLite}, nil
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(Postgres, dsn); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: Postgres}, nil
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate locks selected rows inside a postgres transaction. SQLite already
// serializes writers on its single connection.
func (s *Store) forUpdate() string {
	if s.dialect == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDate(raw string, field string) (core.Date, error) {
	d, err := core.ParseDate(raw)
	if err != nil {
		return core.Date{}, fmt.Errorf("decode %s %q: %w", field, raw, err)
	}
	return d, nil
}

// Accounts

const accountColumns = "id, name, balance, currency"

func scanAccount(row scanner) (core.Account, error) {
	var a core.Account
	err := row.Scan(&a.ID, &a.Name, &a.Balance, &a.Currency)
	return a, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+accountColumns+" FROM accounts WHERE id = ?"), id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) InsertAccount(ctx context.Context, a core.Account) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.rebind("INSERT INTO accounts ("+accountColumns+") VALUES (?, ?, ?, ?)"),
		a.ID, a.Name, a.Balance, a.Currency)
	if err != nil {
		return "", fmt.Errorf("insert account %s: %w", a.ID, err)
	}
	return a.ID, nil
}

func (s *Store) UpdateAccount(ctx context.Context, id string, u store.AccountUpdate) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind("SELECT "+accountColumns+" FROM accounts WHERE id = ?"+s.forUpdate()), id)
		a, err := scanAccount(row)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NewNotFoundError("account", id)
		}
		if err != nil {
			return fmt.Errorf("get account %s: %w", id, err)
		}
		u.Apply(&a)
		if _, err := tx.ExecContext(ctx, s.rebind("UPDATE accounts SET name = ?, currency = ? WHERE id = ?"), a.Name, a.Currency, id); err != nil {
			return fmt.Errorf("update account %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "accounts", "account", id)
}

func (s *Store) deleteByID(ctx context.Context, table, kind, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return core.NewNotFoundError(kind, id)
	}
	return nil
}

// Transactions

const transactionColumns = "id, type, amount, account_id, to_account_id, category_id, date, description, recurring_id, is_auto_generated"

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		tx   core.Transaction
		date string
	)
	err := row.Scan(&tx.ID, &tx.Type, &tx.Amount, &tx.AccountID, &tx.ToAccountID, &tx.CategoryID,
		&date, &tx.Description, &tx.RecurringID, &tx.IsAutoGenerated)
	if err != nil {
		return tx, err
	}
	tx.Date, err = scanDate(date, "date")
	return tx, err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+transactionColumns+" FROM transactions WHERE id = ?"), id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	if f.AccountID != "" {
		conds = append(conds, "(account_id = ? OR to_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.RecurringID != "" {
		conds = append(conds, "recurring_id = ?")
		args = append(args, f.RecurringID)
	}
	if !f.From.IsEmpty() {
		conds = append(conds, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsEmpty() {
		conds = append(conds, "date <= ?")
		args = append(args, f.To.String())
	}

	q := "SELECT " + transactionColumns + " FROM transactions"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY date, id"

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) InsertTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO transactions ("+transactionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		tx.ID, string(tx.Type), tx.Amount, tx.AccountID, tx.ToAccountID, tx.CategoryID,
		tx.Date.String(), tx.Description, tx.RecurringID, tx.IsAutoGenerated)
	if err != nil {
		return "", fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return tx.ID, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "transactions", "transaction", id)
}

// Ledger entries

const entryColumns = "id, transaction_id, account_id, debit, credit, date"

func scanEntry(row scanner) (core.LedgerEntry, error) {
	var (
		e    core.LedgerEntry
		date string
	)
	if err := row.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Debit, &e.Credit, &date); err != nil {
		return e, err
	}
	var err error
	e.Date, err = scanDate(date, "entry date")
	return e, err
}

func (s *Store) ListEntries(ctx context.Context, f store.EntryFilter) ([]core.LedgerEntry, error) {
	var (
		conds []string
		args  []any
	)
	if f.TransactionID != "" {
		conds = append(conds, "transaction_id = ?")
		args = append(args, f.TransactionID)
	}
	if f.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, f.AccountID)
	}
	q := "SELECT " + entryColumns + " FROM ledger_entries"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY date, transaction_id, seq"

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ApplyPostings(ctx context.Context, entries []core.LedgerEntry, deltas []core.BalanceDelta) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range sortedDeltas(deltas) {
			if err := s.adjustBalance(ctx, tx, d); err != nil {
				return err
			}
		}
		insert := s.rebind("INSERT INTO ledger_entries (" + entryColumns + ", seq) VALUES (?, ?, ?, ?, ?, ?, ?)")
		for i, e := range entries {
			if e.ID == "" {
				e.ID = uuid.New().String()
			}
			if _, err := tx.ExecContext(ctx, insert, e.ID, e.TransactionID, e.AccountID, e.Debit, e.Credit, e.Date.String(), i); err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		slog.DebugContext(ctx, "Postings applied",
			"transaction_id", entries[0].TransactionID,
			"entries", len(entries),
			"accounts", len(deltas))
	}
	return nil
}

func (s *Store) RevertPostings(ctx context.Context, transactionID string, deltas []core.BalanceDelta) (int, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM ledger_entries WHERE transaction_id = ?"), transactionID)
		if err != nil {
			return fmt.Errorf("delete ledger entries of %s: %w", transactionID, err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("delete ledger entries of %s: %w", transactionID, err)
		}
		if removed == 0 {
			return nil
		}
		for _, d := range sortedDeltas(deltas) {
			err := s.adjustBalance(ctx, tx, d)
			// Accounts deleted since posting are skipped.
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.DebugContext(ctx, "Postings reverted", "transaction_id", transactionID, "entries", removed)
	}
	return int(removed), nil
}

func (s *Store) adjustBalance(ctx context.Context, tx *sql.Tx, d core.BalanceDelta) error {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, s.rebind("SELECT balance FROM accounts WHERE id = ?"+s.forUpdate()), d.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewNotFoundError("account", d.AccountID)
	}
	if err != nil {
		return fmt.Errorf("read balance of %s: %w", d.AccountID, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("UPDATE accounts SET balance = ? WHERE id = ?"), balance.Add(d.Amount), d.AccountID); err != nil {
		return fmt.Errorf("update balance of %s: %w", d.AccountID, err)
	}
	return nil
}

// sortedDeltas orders row locks by account id across concurrent postings.
func sortedDeltas(deltas []core.BalanceDelta) []core.BalanceDelta {
	out := append([]core.BalanceDelta(nil), deltas...)
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Recurring rules

const ruleColumns = "id, name, type, amount, account_id, to_account_id, category_id, frequency, start_date, end_date, next_date, last_processed, is_active"

func scanRule(row scanner) (core.RecurringRule, error) {
	var r core.RecurringRule
	var start, end, next, lastProcessed string
	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Amount, &r.AccountID, &r.ToAccountID, &r.CategoryID,
		&r.Frequency, &start, &end, &next, &lastProcessed, &r.IsActive)
	if err != nil {
		return r, err
	}
	if r.StartDate, err = scanDate(start, "start_date"); err != nil {
		return r, err
	}
	if r.EndDate, err = scanDate(end, "end_date"); err != nil {
		return r, err
	}
	if r.NextDate, err = scanDate(next, "next_date"); err != nil {
		return r, err
	}
	r.LastProcessed, err = scanDate(lastProcessed, "last_processed")
	return r, err
}

func (s *Store) GetRule(ctx context.Context, id string) (*core.RecurringRule, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+ruleColumns+" FROM recurring_rules WHERE id = ?"), id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("recurring rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get recurring rule %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) ListRules(ctx context.Context, f store.RuleFilter) ([]core.RecurringRule, error) {
	q := "SELECT " + ruleColumns + " FROM recurring_rules"
	var args []any
	if f.ActiveOnly {
		q += " WHERE is_active = ?"
		args = append(args, true)
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list recurring rules: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertRule(ctx context.Context, r core.RecurringRule) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO recurring_rules ("+ruleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		r.ID, r.Name, string(r.Type), r.Amount, r.AccountID, r.ToAccountID, r.CategoryID, string(r.Frequency),
		r.StartDate.String(), r.EndDate.String(), r.NextDate.String(), r.LastProcessed.String(), r.IsActive)
	if err != nil {
		return "", fmt.Errorf("insert recurring rule %s: %w", r.ID, err)
	}
	return r.ID, nil
}

func (s *Store) UpdateRule(ctx context.Context, id string, u store.RuleUpdate) error {
	return s.updateRule(ctx, id, u, nil)
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "recurring_rules", "recurring rule", id)
}

func (s *Store) ClaimRule(ctx context.Context, id string, expectedNext core.Date, u store.RuleUpdate) error {
	return s.updateRule(ctx, id, u, func(r core.RecurringRule) error {
		if !r.NextDate.Equal(expectedNext.Time) {
			return store.ErrConflict
		}
		return nil
	})
}

// updateRule reads the rule under lock, runs check, and writes back its mutable columns.
func (s *Store) updateRule(ctx context.Context, id string, u store.RuleUpdate, check func(core.RecurringRule) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind("SELECT "+ruleColumns+" FROM recurring_rules WHERE id = ?"+s.forUpdate()), id)
		r, err := scanRule(row)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NewNotFoundError("recurring rule", id)
		}
		if err != nil {
			return fmt.Errorf("get recurring rule %s: %w", id, err)
		}
		if check != nil {
			if err := check(r); err != nil {
				return err
			}
		}
		u.Apply(&r)
		_, err = tx.ExecContext(ctx,
			s.rebind(`UPDATE recurring_rules
				SET name = ?, amount = ?, end_date = ?, next_date = ?, last_processed = ?, is_active = ?
				WHERE id = ?`),
			r.Name, r.Amount, r.EndDate.String(), r.NextDate.String(), r.LastProcessed.String(), r.IsActive, id)
		if err != nil {
			return fmt.Errorf("update recurring rule %s: %w", id, err)
		}
		return nil
	})
}
