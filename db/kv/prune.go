package kv

import (
	"context"

	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/encoding/bytesutil"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

const (
	// DefaultRetainedEpochs is how many target epochs of attestation history
	// are kept behind the highest recorded target epoch.
	DefaultRetainedEpochs = 512
	// DefaultRetainedSlots is how many slots of proposal history are kept
	// behind the highest recorded slot (512 epochs of 32 slots).
	DefaultRetainedSlots = 512 * 32
)

// PruneHistory loops through every validator and deletes attestation data
// older than the highest target epoch minus retainedEpochs and proposal data
// older than the highest slot minus retainedSlots. The matching low
// watermarks are raised in the same transaction so that nothing pruned can
// ever be signed again. The highest record per validator always survives,
// also with a retention of zero.
func (s *Store) PruneHistory(ctx context.Context, retainedEpochs, retainedSlots uint64) error {
	ctx, span := trace.StartSpan(ctx, "Validator.PruneHistory")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		t := &historyTx{tx: tx}
		return tx.Bucket(validatorIDsBucket).ForEach(func(idBytes, _ []byte) error {
			validatorID := bytesutil.BytesToUint64BigEndian(idBytes)
			if err := t.pruneProposals(validatorID, retainedSlots); err != nil {
				return err
			}
			return t.pruneAttestations(validatorID, retainedEpochs)
		})
	})
}

func (t *historyTx) pruneProposals(validatorID, retainedSlots uint64) error {
	bucket := t.tx.Bucket(signedBlocksBucket).Bucket(bytesutil.Uint64ToBytesBigEndian(validatorID))
	if bucket == nil {
		return nil
	}
	highestSlotBytes, _ := bucket.Cursor().Last()
	if highestSlotBytes == nil {
		return nil
	}
	highestSlot := bytesutil.BytesToUint64BigEndian(highestSlotBytes)
	if highestSlot <= retainedSlots {
		return nil
	}
	boundary := highestSlot - retainedSlots
	if retainedSlots == 0 {
		boundary--
	}
	if err := t.RaiseWatermarks(validatorID, &common.Watermarks{
		BlockSlot: common.Uint64Ptr(boundary),
	}); err != nil {
		return err
	}
	c := bucket.Cursor()
	for slotBytes, _ := c.First(); slotBytes != nil; slotBytes, _ = c.First() {
		if bytesutil.BytesToUint64BigEndian(slotBytes) > boundary {
			break
		}
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

func (t *historyTx) pruneAttestations(validatorID, retainedEpochs uint64) error {
	bucket := t.attestationBucketReadOnly(validatorID)
	if bucket == nil {
		return nil
	}
	c := bucket.Cursor()
	highestTargetBytes, _ := c.Last()
	if highestTargetBytes == nil {
		return nil
	}
	highestTarget := bytesutil.BytesToUint64BigEndian(highestTargetBytes)
	if highestTarget <= retainedEpochs {
		return nil
	}
	boundary := highestTarget - retainedEpochs
	if retainedEpochs == 0 {
		boundary--
	}
	for targetBytes, _ := c.First(); targetBytes != nil; targetBytes, _ = c.First() {
		if bytesutil.BytesToUint64BigEndian(targetBytes) > boundary {
			break
		}
		if err := c.Delete(); err != nil {
			return err
		}
	}
	// The lowest surviving attestation pins the new watermarks: stored source
	// epochs never decrease with rising targets, so its source epoch bounds
	// every pruned record's source as well.
	lowestTargetBytes, lowestEnc := bucket.Cursor().First()
	if lowestTargetBytes == nil {
		return nil
	}
	lowest := decodeAttestation(validatorID, lowestTargetBytes, lowestEnc)
	return t.RaiseWatermarks(validatorID, &common.Watermarks{
		SourceEpoch: common.Uint64Ptr(lowest.SourceEpoch),
		TargetEpoch: common.Uint64Ptr(boundary),
	})
}
