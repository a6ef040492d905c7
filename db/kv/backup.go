package kv

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

const backupsDirectoryName = "backups"

// Backup the database to the datadir backup directory.
// Example for backup: $DATADIR/backups/slashguard_1029019.backup
func (s *Store) Backup(ctx context.Context, outputDir string) error {
	ctx, span := trace.StartSpan(ctx, "HistoryStore.Backup")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return err
	}

	backupsDir := outputDir
	if backupsDir == "" {
		backupsDir = path.Join(s.databasePath, backupsDirectoryName)
	}
	if err := os.MkdirAll(backupsDir, 0700); err != nil {
		return err
	}
	backupPath := path.Join(backupsDir, fmt.Sprintf("slashguard_%d.backup", time.Now().Unix()))
	log.WithField("backup", backupPath).Info("Writing backup database")

	copyDB, err := bolt.Open(backupPath, dbFilePermission, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return err
	}
	defer func() {
		if err := copyDB.Close(); err != nil {
			log.WithError(err).Error("Failed to close backup database")
		}
	}()

	return s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			log.Debugf("Copying bucket %s with %d keys", name, b.Stats().KeyN)
			return copyDB.Update(func(tx2 *bolt.Tx) error {
				b2, err := tx2.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return copyBucket(b, b2)
			})
		})
	})
}

func copyBucket(src, dst *bolt.Bucket) error {
	return src.ForEach(func(k, v []byte) error {
		if v == nil {
			nested := src.Bucket(k)
			nestedCopy, err := dst.CreateBucketIfNotExists(k)
			if err != nil {
				return err
			}
			return copyBucket(nested, nestedCopy)
		}
		return dst.Put(k, v)
	})
}
