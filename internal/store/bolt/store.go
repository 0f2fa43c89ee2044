// Package bolt is the embedded key/value record store on bbolt. Records are
// JSON documents keyed by id; ledger entries are keyed by transaction id plus
// a sequence so a transaction's entries share a key prefix.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// Bucket names.
const (
	BucketAccounts     = "accounts"
	BucketTransactions = "transactions"
	BucketEntries      = "ledger_entries"
	BucketRules        = "recurring_rules"
)

type Store struct {
	db *bolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens the database at dbPath and initializes buckets.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{BucketAccounts, BucketTransactions, BucketEntries, BucketRules} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(BucketAccounts)) == nil {
			return fmt.Errorf("bucket %s not found", BucketAccounts)
		}
		return nil
	})
}

func getJSON(tx *bolt.Tx, bucket, key string, v any) (bool, error) {
	data := tx.Bucket([]byte(bucket)).Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func putJSON(tx *bolt.Tx, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

// insertJSON puts v under key, refusing to overwrite an existing record.
func insertJSON(tx *bolt.Tx, bucket, kind, key string, v any) error {
	if tx.Bucket([]byte(bucket)).Get([]byte(key)) != nil {
		return fmt.Errorf("%s %q already exists: %w", kind, key, store.ErrConflict)
	}
	return putJSON(tx, bucket, key, v)
}

func deleteKey(tx *bolt.Tx, bucket, kind, key string) error {
	b := tx.Bucket([]byte(bucket))
	if b.Get([]byte(key)) == nil {
		return core.NewNotFoundError(kind, key)
	}
	return b.Delete([]byte(key))
}

// listJSON decodes every value of bucket into T, keeping those keep accepts.
func listJSON[T any](s *Store, bucket string, keep func(T) bool) ([]T, error) {
	var out []T
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to unmarshal %s/%s: %w", bucket, k, err)
			}
			if keep == nil || keep(item) {
				out = append(out, item)
			}
			return nil
		})
	})
	return out, err
}

// Accounts

func (s *Store) GetAccount(_ context.Context, id string) (*core.Account, error) {
	var a core.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx, BucketAccounts, id, &a)
		if err == nil && !ok {
			return core.NewNotFoundError("account", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	return listJSON[core.Account](s, BucketAccounts, nil)
}

func (s *Store) InsertAccount(_ context.Context, a core.Account) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return insertJSON(tx, BucketAccounts, "account", a.ID, a)
	})
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *Store) UpdateAccount(_ context.Context, id string, u store.AccountUpdate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var a core.Account
		ok, err := getJSON(tx, BucketAccounts, id, &a)
		if err != nil {
			return err
		}
		if !ok {
			return core.NewNotFoundError("account", id)
		}
		u.Apply(&a)
		return putJSON(tx, BucketAccounts, id, a)
	})
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteKey(tx, BucketAccounts, "account", id)
	})
}

// Transactions

func (s *Store) GetTransaction(_ context.Context, id string) (*core.Transaction, error) {
	var t core.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx, BucketTransactions, id, &t)
		if err == nil && !ok {
			return core.NewNotFoundError("transaction", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTransactions(_ context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	out, err := listJSON(s, BucketTransactions, f.Match)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out, nil
}

func (s *Store) InsertTransaction(_ context.Context, t core.Transaction) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return insertJSON(tx, BucketTransactions, "transaction", t.ID, t)
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteKey(tx, BucketTransactions, "transaction", id)
	})
}

// Ledger entries

func entryPrefix(transactionID string) []byte {
	return append([]byte(transactionID), 0)
}

func entryKey(transactionID string, seq uint64) []byte {
	key := entryPrefix(transactionID)
	return binary.BigEndian.AppendUint64(key, seq)
}

func (s *Store) ListEntries(_ context.Context, f store.EntryFilter) ([]core.LedgerEntry, error) {
	out, err := listJSON(s, BucketEntries, f.Match)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out, nil
}

func (s *Store) ApplyPostings(_ context.Context, entries []core.LedgerEntry, deltas []core.BalanceDelta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := applyDeltas(tx, deltas, false); err != nil {
			return err
		}
		b := tx.Bucket([]byte(BucketEntries))
		for _, e := range entries {
			if e.ID == "" {
				e.ID = uuid.New().String()
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal ledger entry: %w", err)
			}
			if err := b.Put(entryKey(e.TransactionID, seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RevertPostings(_ context.Context, transactionID string, deltas []core.BalanceDelta) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(BucketEntries)).Cursor()
		prefix := entryPrefix(transactionID)
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		b := tx.Bucket([]byte(BucketEntries))
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(keys)
		if removed == 0 {
			return nil
		}
		return applyDeltas(tx, deltas, true)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// applyDeltas adds each delta to its account. With skipMissing unset a
// missing account fails the whole bolt transaction.
func applyDeltas(tx *bolt.Tx, deltas []core.BalanceDelta, skipMissing bool) error {
	for _, d := range deltas {
		var a core.Account
		ok, err := getJSON(tx, BucketAccounts, d.AccountID, &a)
		if err != nil {
			return err
		}
		if !ok {
			if skipMissing {
				continue
			}
			return core.NewNotFoundError("account", d.AccountID)
		}
		a.Balance = a.Balance.Add(d.Amount)
		if err := putJSON(tx, BucketAccounts, a.ID, a); err != nil {
			return err
		}
	}
	return nil
}

// Recurring rules

func (s *Store) GetRule(_ context.Context, id string) (*core.RecurringRule, error) {
	var r core.RecurringRule
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx, BucketRules, id, &r)
		if err == nil && !ok {
			return core.NewNotFoundError("recurring rule", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRules(_ context.Context, f store.RuleFilter) ([]core.RecurringRule, error) {
	return listJSON(s, BucketRules, func(r core.RecurringRule) bool {
		return !f.ActiveOnly || r.IsActive
	})
}

func (s *Store) InsertRule(_ context.Context, r core.RecurringRule) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return insertJSON(tx, BucketRules, "recurring rule", r.ID, r)
	})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *Store) UpdateRule(_ context.Context, id string, u store.RuleUpdate) error {
	return s.updateRule(id, u, nil)
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteKey(tx, BucketRules, "recurring rule", id)
	})
}

func (s *Store) ClaimRule(_ context.Context, id string, expectedNext core.Date, u store.RuleUpdate) error {
	return s.updateRule(id, u, func(r core.RecurringRule) error {
		if !r.NextDate.Equal(expectedNext.Time) {
			return store.ErrConflict
		}
		return nil
	})
}

func (s *Store) updateRule(id string, u store.RuleUpdate, check func(core.RecurringRule) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var r core.RecurringRule
		ok, err := getJSON(tx, BucketRules, id, &r)
		if err != nil {
			return err
		}
		if !ok {
			return core.NewNotFoundError("recurring rule", id)
		}
		if check != nil {
			if err := check(r); err != nil {
				return err
			}
		}
		u.Apply(&r)
		return putJSON(tx, BucketRules, id, r)
	})
}
