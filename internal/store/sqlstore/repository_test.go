package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fintrack/internal/core"
	"fintrack/internal/store"
	"fintrack/internal/store/storetest"
)

func openTestSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "fintrack.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestSQLite(t) })
}

func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("FINTRACK_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("FINTRACK_TEST_POSTGRES_URL not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenPostgres(dsn)
		if err != nil {
			t.Fatalf("OpenPostgres() error = %v", err)
		}
		for _, table := range []string{"ledger_entries", "transactions", "recurring_rules", "accounts"} {
			if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{SQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{Postgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{Postgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect)+" "+tt.in, func(t *testing.T) {
			s := &Store{dialect: tt.dialect}
			if got := s.rebind(tt.in); got != tt.want {
				t.Errorf("rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fintrack.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	rule := core.RecurringRule{
		ID: "r1", Name: "Gym", Type: core.Expense, Amount: core.BalanceTolerance, AccountID: "A",
		CategoryID: "health", Frequency: core.Weekly, StartDate: core.NewDate(2024, 3, 4),
		NextDate: core.NewDate(2024, 3, 4), EndDate: core.NewDate(2024, 12, 31), IsActive: true,
	}
	if _, err := s.InsertRule(ctx, rule); err != nil {
		t.Fatalf("InsertRule() error = %v", err)
	}
	s.Close()

	// Migrations must be a no-op the second time.
	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if !got.EndDate.Equal(rule.EndDate.Time) || !got.Amount.Equal(rule.Amount) || got.Frequency != core.Weekly {
		t.Errorf("GetRule() = %+v", got)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
