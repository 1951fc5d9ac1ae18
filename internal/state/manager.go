package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/nginx-vhost-sync/internal/metrics"
)

const filePrefix = "file:"

type Manager interface {
	LoadState(ctx context.Context) (State, error)
	SaveState(ctx context.Context, state State) error
	Close() error
}

type badgerManager struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

func New(path string, metrics *metrics.Metrics) (Manager, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	m := &badgerManager{db: db, metrics: metrics}
	return m, nil
}

func (m *badgerManager) LoadState(ctx context.Context) (State, error) {
	state := State{
		Files: make(map[string]FileState),
	}

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(filePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			path := key[len(filePrefix):]

			err := item.Value(func(val []byte) error {
				var fs FileState
				if err := json.Unmarshal(val, &fs); err != nil {
					return err
				}
				state.Files[path] = fs
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	m.metrics.IncBadgerRequest("read", err == nil)
	return state, err
}

func (m *badgerManager) SaveState(ctx context.Context, state State) error {
	txn := m.db.NewTransaction(true)
	defer txn.Discard()

	// First, get all existing keys to handle deletions
	existingPaths := make(map[string]bool)

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	prefix := []byte(filePrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		path := key[len(filePrefix):]
		existingPaths[path] = true
	}
	it.Close()

	// Store current files
	for path, fs := range state.Files {
		data, err := json.Marshal(fs)
		if err != nil {
			m.metrics.IncBadgerRequest("update", false)
			return err
		}
		key := filePrefix + path
		if err := txn.Set([]byte(key), data); err != nil {
			m.metrics.IncBadgerRequest("update", false)
			return err
		}
		// Remove from existingPaths to track what's been kept
		delete(existingPaths, path)
	}

	// Delete files that are no longer managed
	for path := range existingPaths {
		key := filePrefix + path
		if err := txn.Delete([]byte(key)); err != nil {
			m.metrics.IncBadgerRequest("delete", false)
			return err
		}
	}
	err := txn.Commit()
	m.metrics.IncBadgerRequest("update", err == nil)
	return err
}

func (m *badgerManager) Close() error {
	return m.db.Close()
}
