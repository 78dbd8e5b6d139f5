// Package store keeps glow curve records in a BadgerDB key-value store.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/runningwild/glowfit/pkg/record"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrCorrupt  = errors.New("store: corrupt data")
	ErrMode     = errors.New("store: mode must be append or overwrite")
)

const (
	ModeAppend    = "append"
	ModeOverwrite = "overwrite"
)

var keyPrefix = []byte("rec/")

// Entry is a stored record and its id.
type Entry struct {
	ID     string
	Record record.Record
}

// Storage interface defines the contract for record storage.
type Storage interface {
	// Insert stores rec under a new id and returns it.
	Insert(ctx context.Context, rec record.Record) (string, error)

	// Get returns the record stored under id.
	Get(ctx context.Context, id string) (record.Record, error)

	// Put stores rec under id, replacing any existing record.
	Put(ctx context.Context, id string, rec record.Record) error

	// Update replaces every record by fn's result. A nil result keeps the
	// stored record.
	Update(ctx context.Context, fn func(Entry) (record.Record, error)) error

	// All returns the records in insertion order.
	All(ctx context.Context) ([]Entry, error)

	Len(ctx context.Context) (int, error)

	Close() error
}

// Config holds storage configuration.
type Config struct {
	Path             string // directory of the database
	InMemory         bool   // also implied by an empty Path
	Mode             string // ModeAppend or ModeOverwrite
	CompressionLevel int
}

// DefaultConfig returns an in-memory store.
func DefaultConfig() *Config {
	return &Config{
		InMemory:         true,
		Mode:             ModeAppend,
		CompressionLevel: 3,
	}
}

// badgerStorage implements Storage using BadgerDB.
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	compressor *Compressor
}

// NewStorage opens the store described by cfg. In overwrite mode any
// existing records are dropped.
func NewStorage(cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAppend
	}
	if mode != ModeAppend && mode != ModeOverwrite {
		return nil, fmt.Errorf("%w: %q", ErrMode, cfg.Mode)
	}

	var opts badger.Options
	if cfg.InMemory || cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	if mode == ModeOverwrite {
		if err := db.DropAll(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to clear BadgerDB: %w", err)
		}
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	return &badgerStorage{cfg: cfg, db: db, compressor: compressor}, nil
}

// newID returns a time-ordered id, so key order is insertion order.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func recordKey(id string) []byte {
	return append(append([]byte(nil), keyPrefix...), id...)
}

func (s *badgerStorage) Insert(ctx context.Context, rec record.Record) (string, error) {
	id, err := newID()
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	if err := s.Put(ctx, id, rec); err != nil {
		return "", err
	}
	return id, nil
}

func (s *badgerStorage) Put(ctx context.Context, id string, rec record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.compressor.encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(id), data)
	})
}

func (s *badgerStorage) Get(ctx context.Context, id string) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s.compressor.decodeRecord(data)
}

func (s *badgerStorage) All(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := s.compressor.decodeRecord(data)
			if err != nil {
				return err
			}
			id := string(item.Key()[len(keyPrefix):])
			entries = append(entries, Entry{ID: id, Record: rec})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *badgerStorage) Update(ctx context.Context, fn func(Entry) (record.Record, error)) error {
	entries, err := s.All(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		rec, err := fn(e)
		if err != nil {
			return fmt.Errorf("record %s: %w", e.ID, err)
		}
		if rec == nil {
			continue
		}
		if err := s.Put(ctx, e.ID, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *badgerStorage) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Close implements Storage.Close
func (s *badgerStorage) Close() error {
	s.compressor.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
