package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/object"
)

const roomKeyPrefix = "room:"

// BadgerStore persists documents as JSON values in BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	ReadOnly   bool
}

// OpenBadger opens (or creates) the database.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.ReadOnly = opts.ReadOnly
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	logging.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Bool("read_only", opts.ReadOnly).
		Msg("room store opened")

	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func roomKey(name string) []byte {
	return []byte(roomKeyPrefix + name)
}

func (s *BadgerStore) Find(_ context.Context, name string) (*Document, error) {
	var doc Document

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get room: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, s.mapErr(err)
	}

	return &doc, nil
}

// Upsert replaces currentSlide and slides in a single transaction. Any other
// top-level fields already present in the stored value are kept.
func (s *BadgerStore) Upsert(_ context.Context, doc *Document) (*Document, error) {
	var stored Document

	err := s.db.Update(func(txn *badger.Txn) error {
		fields := map[string]json.RawMessage{}

		item, err := txn.Get(roomKey(doc.Name))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get room: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &fields)
			}); err != nil {
				return fmt.Errorf("decode room: %w", err)
			}
		}

		slides := doc.Slides
		if slides == nil {
			slides = map[string][]object.Object{}
		}
		if err := setField(fields, "name", doc.Name); err != nil {
			return err
		}
		if err := setField(fields, "currentSlide", doc.CurrentSlide); err != nil {
			return err
		}
		if err := setField(fields, "slides", slides); err != nil {
			return err
		}

		data, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal room: %w", err)
		}
		if err := txn.Set(roomKey(doc.Name), data); err != nil {
			return fmt.Errorf("set room: %w", err)
		}
		return json.Unmarshal(data, &stored)
	})
	if err != nil {
		return nil, s.mapErr(err)
	}

	return &stored, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) mapErr(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

func setField(fields map[string]json.RawMessage, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	fields[key] = raw
	return nil
}
