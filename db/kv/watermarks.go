package kv

import (
	"github.com/pkg/errors"
	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/encoding/bytesutil"
	bolt "go.etcd.io/bbolt"
)

// Watermarks returns the validator's low watermarks. Fields that were never
// established are nil.
func (t *historyTx) Watermarks(validatorID uint64) (*common.Watermarks, error) {
	marks := &common.Watermarks{}
	bucket := t.tx.Bucket(lowWatermarksBucket).Bucket(bytesutil.Uint64ToBytesBigEndian(validatorID))
	if bucket == nil {
		return marks, nil
	}
	marks.BlockSlot = readWatermark(bucket, blockSlotWatermarkKey)
	marks.SourceEpoch = readWatermark(bucket, sourceEpochWatermarkKey)
	marks.TargetEpoch = readWatermark(bucket, targetEpochWatermarkKey)
	return marks, nil
}

// RaiseWatermarks stores the maximum of the existing and supplied watermark
// per field. Watermarks never go down, so a stale or replayed raise is a
// no-op.
func (t *historyTx) RaiseWatermarks(validatorID uint64, marks *common.Watermarks) error {
	bucket, err := t.tx.Bucket(lowWatermarksBucket).CreateBucketIfNotExists(
		bytesutil.Uint64ToBytesBigEndian(validatorID),
	)
	if err != nil {
		return errors.Wrapf(err, "could not create watermarks bucket for validator %d", validatorID)
	}
	if err := raiseWatermark(bucket, blockSlotWatermarkKey, marks.BlockSlot); err != nil {
		return err
	}
	if err := raiseWatermark(bucket, sourceEpochWatermarkKey, marks.SourceEpoch); err != nil {
		return err
	}
	return raiseWatermark(bucket, targetEpochWatermarkKey, marks.TargetEpoch)
}

func readWatermark(bucket *bolt.Bucket, key []byte) *uint64 {
	enc := bucket.Get(key)
	if len(enc) < 8 {
		return nil
	}
	value := bytesutil.BytesToUint64BigEndian(enc)
	return &value
}

func raiseWatermark(bucket *bolt.Bucket, key []byte, value *uint64) error {
	if value == nil {
		return nil
	}
	if existing := readWatermark(bucket, key); existing != nil && *existing >= *value {
		return nil
	}
	if err := bucket.Put(key, bytesutil.Uint64ToBytesBigEndian(*value)); err != nil {
		return errors.Wrapf(err, "could not raise %s watermark", string(key))
	}
	return nil
}
