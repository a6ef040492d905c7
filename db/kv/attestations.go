package kv

import (
	"github.com/pkg/errors"
	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/encoding/bytesutil"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrDuplicateAttestation is returned when inserting an attestation at a
	// target epoch that already holds a record for the validator.
	ErrDuplicateAttestation = errors.New("an attestation already exists at this target epoch")
	// ErrSourceExceedsTarget guards the source <= target invariant of every
	// stored attestation.
	ErrSourceExceedsTarget = errors.New("attestation source epoch exceeds target epoch")
)

// Attestation records are keyed by target epoch. The value encodes the
// source epoch followed by the nullable signing root.
func encodeAttestation(att *common.SignedAttestation) []byte {
	sourceBytes := bytesutil.Uint64ToBytesBigEndian(att.SourceEpoch)
	return append(sourceBytes, encodeSigningRoot(att.SigningRoot)...)
}

func decodeAttestation(validatorID uint64, targetBytes, enc []byte) *common.SignedAttestation {
	return &common.SignedAttestation{
		ValidatorID: validatorID,
		SourceEpoch: bytesutil.BytesToUint64BigEndian(enc[:8]),
		TargetEpoch: bytesutil.BytesToUint64BigEndian(targetBytes),
		SigningRoot: decodeSigningRoot(enc[8:]),
	}
}

// FindAttestationByTarget returns the attestation recorded for the validator
// at the given target epoch, or nil when none exists.
func (t *historyTx) FindAttestationByTarget(validatorID, target uint64) (*common.SignedAttestation, error) {
	bucket := t.attestationBucketReadOnly(validatorID)
	if bucket == nil {
		return nil, nil
	}
	targetBytes := bytesutil.Uint64ToBytesBigEndian(target)
	enc := bucket.Get(targetBytes)
	if enc == nil {
		return nil, nil
	}
	return decodeAttestation(validatorID, targetBytes, enc), nil
}

// FindSurrounding returns any recorded attestation whose span strictly
// contains (source, target), or nil when none exists.
func (t *historyTx) FindSurrounding(validatorID, source, target uint64) (*common.SignedAttestation, error) {
	return t.scanAttestations(validatorID, func(recordedSource, recordedTarget uint64) bool {
		return recordedSource < source && recordedTarget > target
	})
}

// FindSurrounded returns any recorded attestation whose span is strictly
// contained by (source, target), or nil when none exists.
func (t *historyTx) FindSurrounded(validatorID, source, target uint64) (*common.SignedAttestation, error) {
	return t.scanAttestations(validatorID, func(recordedSource, recordedTarget uint64) bool {
		return recordedSource > source && recordedTarget < target
	})
}

func (t *historyTx) scanAttestations(
	validatorID uint64, match func(source, target uint64) bool,
) (*common.SignedAttestation, error) {
	bucket := t.attestationBucketReadOnly(validatorID)
	if bucket == nil {
		return nil, nil
	}
	c := bucket.Cursor()
	for targetBytes, enc := c.First(); targetBytes != nil; targetBytes, enc = c.Next() {
		recordedTarget := bytesutil.BytesToUint64BigEndian(targetBytes)
		recordedSource := bytesutil.BytesToUint64BigEndian(enc[:8])
		if match(recordedSource, recordedTarget) {
			return decodeAttestation(validatorID, targetBytes, enc), nil
		}
	}
	return nil, nil
}

// InsertAttestation records a signed attestation, failing on a duplicate
// (validator, target epoch) or a malformed source > target span.
func (t *historyTx) InsertAttestation(att *common.SignedAttestation) error {
	if att.SourceEpoch > att.TargetEpoch {
		return ErrSourceExceedsTarget
	}
	bucket, err := t.tx.Bucket(signedAttestationsBucket).CreateBucketIfNotExists(
		bytesutil.Uint64ToBytesBigEndian(att.ValidatorID),
	)
	if err != nil {
		return errors.Wrapf(err, "could not create attestation bucket for validator %d", att.ValidatorID)
	}
	targetBytes := bytesutil.Uint64ToBytesBigEndian(att.TargetEpoch)
	if existing := bucket.Get(targetBytes); existing != nil {
		return ErrDuplicateAttestation
	}
	if err := bucket.Put(targetBytes, encodeAttestation(att)); err != nil {
		return errors.Wrapf(err, "could not save attestation at target epoch %d", att.TargetEpoch)
	}
	return nil
}

// AttestationsForValidator returns every recorded attestation for the
// validator in target epoch order.
func (t *historyTx) AttestationsForValidator(validatorID uint64) ([]*common.SignedAttestation, error) {
	bucket := t.attestationBucketReadOnly(validatorID)
	atts := make([]*common.SignedAttestation, 0)
	if bucket == nil {
		return atts, nil
	}
	if err := bucket.ForEach(func(targetBytes, enc []byte) error {
		atts = append(atts, decodeAttestation(validatorID, targetBytes, enc))
		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "could not iterate attestations for validator %d", validatorID)
	}
	return atts, nil
}

func (t *historyTx) attestationBucketReadOnly(validatorID uint64) *bolt.Bucket {
	return t.tx.Bucket(signedAttestationsBucket).Bucket(bytesutil.Uint64ToBytesBigEndian(validatorID))
}
