// Package kv implements the slashing protection history store on top of
// boltdb, a single-file key-value store with fully serialized writable
// transactions.
package kv

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stakeguard/slashguard/db/iface"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

var log = logrus.WithField("prefix", "db")

const (
	// ProtectionDbFileName is the name of the database file inside the datadir.
	ProtectionDbFileName = "slashguard.db"
	dbFilePermission     = 0600
	boltOpenTimeout      = 1 * time.Second
)

// Store backs the slashing protection engine with a boltdb database. It
// satisfies iface.HistoryStore: all history reads and writes run inside bolt
// transactions, and bolt's single-writer discipline serializes every
// check-and-insert pair.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// historyTx adapts a bolt transaction to the iface.HistoryTx contract.
type historyTx struct {
	tx *bolt.Tx
}

var _ iface.HistoryStore = (*Store)(nil)
var _ iface.HistoryTx = (*historyTx)(nil)

// NewKVStore creates a database at the provided directory path, initializing
// the bucket schema if it does not exist yet.
func NewKVStore(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, errors.Wrapf(err, "could not create database directory %s", dirPath)
	}
	datafile := filepath.Join(dirPath, ProtectionDbFileName)
	boltDB, err := bolt.Open(datafile, dbFilePermission, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, errors.Wrapf(err, "could not open database at %s", datafile)
	}
	kv := &Store{
		db:           boltDB,
		databasePath: dirPath,
	}
	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			validatorsBucket,
			validatorIDsBucket,
			signedBlocksBucket,
			signedAttestationsBucket,
			lowWatermarksBucket,
			genesisInfoBucket,
		)
	}); err != nil {
		return nil, err
	}
	return kv, nil
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return errors.Wrapf(err, "could not create %s bucket", string(bucket))
		}
	}
	return nil
}

// Update runs fn inside the store's single writable transaction. The
// transaction commits only if fn returns nil; any error rolls back every
// write fn performed, which is what keeps a signing decision and its record
// atomic.
func (s *Store) Update(ctx context.Context, fn func(iface.HistoryTx) error) error {
	ctx, span := trace.StartSpan(ctx, "HistoryStore.Update")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&historyTx{tx: tx})
	})
}

// View runs fn inside a read-only snapshot transaction.
func (s *Store) View(ctx context.Context, fn func(iface.HistoryTx) error) error {
	ctx, span := trace.StartSpan(ctx, "HistoryStore.View")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&historyTx{tx: tx})
	})
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	return s.db.Update(fn)
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

// Close the underlying boltdb database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ClearDB removes the database file from disk.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(filepath.Join(s.databasePath, ProtectionDbFileName))
}
