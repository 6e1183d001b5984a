package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cloq-dev/cloq/interfaces"
	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend stores envelopes in an embedded BadgerDB key-value store.
// Each Store is a single transaction, so readers observe all or nothing.
type BadgerBackend struct {
	db          *badger.DB
	dir         string
	log         *slog.Logger
	locationURI string
}

// NewBadgerBackend opens (or creates) a BadgerDB at dir. When inMemory is set
// dir is ignored and nothing is persisted.
func NewBadgerBackend(dir string, inMemory bool, log *slog.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log: log}).
		WithLoggingLevel(badger.WARNING)
	uri := fmt.Sprintf("badger://%s", dir)
	if inMemory {
		opts = badger.DefaultOptions("").
			WithInMemory(true).
			WithLogger(badgerLogger{log: log}).
			WithLoggingLevel(badger.WARNING)
		uri = "badger://?inmemory=true"
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database: %v", interfaces.ErrStoreUnavailable, err)
	}

	return &BadgerBackend{
		db:          db,
		dir:         dir,
		log:         log,
		locationURI: uri,
	}, nil
}

// Fetch reads an envelope from the database.
func (b *BadgerBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	key, err := badgerKey(id)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from badger: %w", err)
	}

	b.log.Debug("Fetched artifact from badger",
		slog.String("artifact_id", id.String()),
		slog.Int("size", len(data)))
	return data, nil
}

// Store writes an envelope in a single update transaction.
func (b *BadgerBackend) Store(ctx context.Context, id interfaces.ArtifactID, data []byte) error {
	key, err := badgerKey(id)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to write to badger: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Stored artifact in badger",
		slog.String("artifact_id", id.String()))
	return nil
}

// Exists reports whether a key for id is present.
func (b *BadgerBackend) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	key, err := badgerKey(id)
	if err != nil {
		return false, err
	}

	err = b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read from badger: %w", err)
	}
	return true, nil
}

// Available reports whether the database is still open.
func (b *BadgerBackend) Available(ctx context.Context) bool {
	return !b.db.IsClosed()
}

// Name returns a unique identifier for this storage backend.
func (b *BadgerBackend) Name() string {
	if b.dir == "" {
		return "badger-memory"
	}
	return fmt.Sprintf("badger-%s", filepath.Base(b.dir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *BadgerBackend) LocationURI() string {
	return b.locationURI
}

// Close releases the database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

func badgerKey(id interfaces.ArtifactID) ([]byte, error) {
	name, err := objectName(id)
	if err != nil {
		return nil, err
	}
	return []byte("artifact/" + name), nil
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}
