// Package checkpoint persists tradestrategy snapshots in badger so a
// restarted process resumes each instance where it stopped.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/rustyeddy/intraday/strategy"
)

const prefix = "tradestrategy/"

type Store struct {
	db  *badger.DB
	now func() time.Time
}

type Options struct {
	Path     string
	InMemory bool
	ReadOnly bool
}

func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) == "":
		return nil, errors.New("checkpoint: path is required")
	default:
		bopts = badger.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(id string) []byte {
	return []byte(prefix + id)
}

// Save stores snap under its tradestrategy id, stamping Saved.
func (s *Store) Save(snap strategy.Snapshot) error {
	if snap.Tradestrategy.ID == "" {
		return errors.New("checkpoint: snapshot has no tradestrategy id")
	}
	snap.Saved = s.now().UTC()
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", snap.Tradestrategy.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(snap.Tradestrategy.ID), b)
	})
}

// Load returns the snapshot for id. ok is false when none was saved.
func (s *Store) Load(id string) (snap strategy.Snapshot, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return strategy.Snapshot{}, false, fmt.Errorf("checkpoint: load %s: %w", id, err)
	}
	return snap, ok, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}

// List returns every saved snapshot in key order.
func (s *Store) List() ([]strategy.Snapshot, error) {
	var out []strategy.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snap strategy.Snapshot
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			})
			if err != nil {
				return fmt.Errorf("%s: %w", it.Item().Key(), err)
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	return out, nil
}
