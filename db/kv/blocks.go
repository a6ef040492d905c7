package kv

import (
	"github.com/pkg/errors"
	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/encoding/bytesutil"
	bolt "go.etcd.io/bbolt"
)

// ErrDuplicateProposal is returned when inserting a block at a slot that
// already holds a record for the validator.
var ErrDuplicateProposal = errors.New("a proposal already exists at this slot")

const (
	rootAbsent  = byte(0)
	rootPresent = byte(1)
)

// Signing roots are nullable: a record may assert that a signature exists
// without knowing what was signed. The leading presence byte keeps the two
// cases distinct in the encoded value.
func encodeSigningRoot(root []byte) []byte {
	if root == nil {
		return []byte{rootAbsent}
	}
	enc := make([]byte, 1+len(root))
	enc[0] = rootPresent
	copy(enc[1:], root)
	return enc
}

func decodeSigningRoot(enc []byte) []byte {
	if len(enc) == 0 || enc[0] == rootAbsent {
		return nil
	}
	return clone(enc[1:])
}

// FindBlock returns the signed block recorded for the validator at the given
// slot, or nil when none exists.
func (t *historyTx) FindBlock(validatorID, slot uint64) (*common.SignedBlock, error) {
	bucket := t.tx.Bucket(signedBlocksBucket).Bucket(bytesutil.Uint64ToBytesBigEndian(validatorID))
	if bucket == nil {
		return nil, nil
	}
	enc := bucket.Get(bytesutil.Uint64ToBytesBigEndian(slot))
	if enc == nil {
		return nil, nil
	}
	return &common.SignedBlock{
		ValidatorID: validatorID,
		Slot:        slot,
		SigningRoot: decodeSigningRoot(enc),
	}, nil
}

// InsertBlock records a signed block, failing on a duplicate (validator, slot).
func (t *historyTx) InsertBlock(block *common.SignedBlock) error {
	bucket, err := t.blockBucket(block.ValidatorID)
	if err != nil {
		return err
	}
	slotBytes := bytesutil.Uint64ToBytesBigEndian(block.Slot)
	if existing := bucket.Get(slotBytes); existing != nil {
		return ErrDuplicateProposal
	}
	if err := bucket.Put(slotBytes, encodeSigningRoot(block.SigningRoot)); err != nil {
		return errors.Wrapf(err, "could not save block proposal at slot %d", block.Slot)
	}
	return nil
}

// BlocksForValidator returns every recorded block for the validator in slot order.
func (t *historyTx) BlocksForValidator(validatorID uint64) ([]*common.SignedBlock, error) {
	bucket := t.tx.Bucket(signedBlocksBucket).Bucket(bytesutil.Uint64ToBytesBigEndian(validatorID))
	blocks := make([]*common.SignedBlock, 0)
	if bucket == nil {
		return blocks, nil
	}
	if err := bucket.ForEach(func(slotBytes, enc []byte) error {
		blocks = append(blocks, &common.SignedBlock{
			ValidatorID: validatorID,
			Slot:        bytesutil.BytesToUint64BigEndian(slotBytes),
			SigningRoot: decodeSigningRoot(enc),
		})
		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "could not iterate proposals for validator %d", validatorID)
	}
	return blocks, nil
}

func (t *historyTx) blockBucket(validatorID uint64) (*bolt.Bucket, error) {
	bucket, err := t.tx.Bucket(signedBlocksBucket).CreateBucketIfNotExists(
		bytesutil.Uint64ToBytesBigEndian(validatorID),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create proposal bucket for validator %d", validatorID)
	}
	return bucket, nil
}
