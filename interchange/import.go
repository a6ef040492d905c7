package interchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/db/iface"
)

// ImportInterchangeJSON reads an EIP-3076 interchange document and loads its
// history into the store. The document is rejected as a whole on a version or
// genesis validators root mismatch. Each validator entry is imported in its
// own transaction: registering the key, inserting its blocks and attestations
// (exact duplicates are skipped), and finally raising the validator's low
// watermarks to the highest slot and epochs seen in the entry. An entry whose
// records conflict with stored history or fall below the stored low
// watermarks rolls back completely and fails the import; entries already
// committed remain.
func ImportInterchangeJSON(ctx context.Context, store iface.HistoryStore, r io.Reader) error {
	encodedJSON, err := ioutil.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "could not read slashing protection JSON")
	}
	interchangeJSON := &PlainInterchangeFormat{}
	if err := json.Unmarshal(encodedJSON, interchangeJSON); err != nil {
		return errors.Wrap(err, "could not unmarshal slashing protection JSON")
	}
	if interchangeJSON.Metadata.InterchangeFormatVersion != InterchangeFormatVersion {
		return fmt.Errorf(
			"unsupported interchange format version %s, wanted %s",
			interchangeJSON.Metadata.InterchangeFormatVersion,
			InterchangeFormatVersion,
		)
	}
	genesisRoot, err := BytesFromHex(interchangeJSON.Metadata.GenesisValidatorsRoot)
	if err != nil {
		return errors.Wrap(err, "genesis validators root is not valid hex")
	}
	if err := store.Update(ctx, func(tx iface.HistoryTx) error {
		return tx.SaveGenesisValidatorsRoot(genesisRoot)
	}); err != nil {
		return errors.Wrap(err, "could not pin genesis validators root")
	}

	bar := initializeProgressBar(len(interchangeJSON.Data), "Importing slashing protection history")
	for _, entry := range interchangeJSON.Data {
		pubKey, err := BytesFromHex(entry.Pubkey)
		if err != nil {
			return fmt.Errorf("%s is not a valid public key: %v", entry.Pubkey, err)
		}
		if err := store.Update(ctx, func(tx iface.HistoryTx) error {
			return importValidatorEntry(tx, pubKey, entry)
		}); err != nil {
			return errors.Wrapf(err, "could not import history for validator %#x", pubKey)
		}
		if err := bar.Add(1); err != nil {
			log.WithError(err).Debug("Could not increment progress bar")
		}
	}
	log.WithField("validators", len(interchangeJSON.Data)).Info(
		"Imported EIP-3076 slashing protection history",
	)
	return nil
}

func importValidatorEntry(tx iface.HistoryTx, pubKey []byte, entry *ProtectionData) error {
	validators, err := tx.RegisterValidators([][]byte{pubKey})
	if err != nil {
		return err
	}
	validatorID := validators[0].ID
	floor, err := tx.Watermarks(validatorID)
	if err != nil {
		return err
	}
	marks := &common.Watermarks{}
	for _, block := range entry.SignedBlocks {
		if err := importBlock(tx, validatorID, block, floor, marks); err != nil {
			return err
		}
	}
	for _, att := range entry.SignedAttestations {
		if err := importAttestation(tx, validatorID, att, floor, marks); err != nil {
			return err
		}
	}
	return tx.RaiseWatermarks(validatorID, marks)
}

func importBlock(
	tx iface.HistoryTx, validatorID uint64, block *SignedBlock, floor, marks *common.Watermarks,
) error {
	slot, err := Uint64FromString(block.Slot)
	if err != nil {
		return fmt.Errorf("%s is not a valid slot: %v", block.Slot, err)
	}
	signingRoot, err := signingRootFromHex(block.SigningRoot)
	if err != nil {
		return err
	}
	if marks.BlockSlot == nil || slot > *marks.BlockSlot {
		marks.BlockSlot = common.Uint64Ptr(slot)
	}
	existing, err := tx.FindBlock(validatorID, slot)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.SigningRoot != nil && signingRoot != nil && bytes.Equal(existing.SigningRoot, signingRoot) {
			return nil
		}
		return fmt.Errorf("block at slot %d conflicts with an existing record", slot)
	}
	if floor.BlockSlot != nil && slot <= *floor.BlockSlot {
		return fmt.Errorf("block at slot %d is at or below the stored low watermark %d", slot, *floor.BlockSlot)
	}
	return tx.InsertBlock(&common.SignedBlock{
		ValidatorID: validatorID,
		Slot:        slot,
		SigningRoot: signingRoot,
	})
}

func importAttestation(
	tx iface.HistoryTx, validatorID uint64, att *SignedAttestation, floor, marks *common.Watermarks,
) error {
	source, err := Uint64FromString(att.SourceEpoch)
	if err != nil {
		return fmt.Errorf("%s is not a valid epoch: %v", att.SourceEpoch, err)
	}
	target, err := Uint64FromString(att.TargetEpoch)
	if err != nil {
		return fmt.Errorf("%s is not a valid epoch: %v", att.TargetEpoch, err)
	}
	if source > target {
		return fmt.Errorf("attestation source %d exceeds target %d", source, target)
	}
	signingRoot, err := signingRootFromHex(att.SigningRoot)
	if err != nil {
		return err
	}
	if marks.SourceEpoch == nil || source > *marks.SourceEpoch {
		marks.SourceEpoch = common.Uint64Ptr(source)
	}
	if marks.TargetEpoch == nil || target > *marks.TargetEpoch {
		marks.TargetEpoch = common.Uint64Ptr(target)
	}
	existing, err := tx.FindAttestationByTarget(validatorID, target)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.SigningRoot != nil && signingRoot != nil && bytes.Equal(existing.SigningRoot, signingRoot) {
			return nil
		}
		return fmt.Errorf("attestation at target %d conflicts with an existing record", target)
	}
	// Source may equal its watermark, target must strictly exceed its own.
	if floor.SourceEpoch != nil && source < *floor.SourceEpoch {
		return fmt.Errorf("attestation source %d is below the stored low watermark %d", source, *floor.SourceEpoch)
	}
	if floor.TargetEpoch != nil && target <= *floor.TargetEpoch {
		return fmt.Errorf("attestation target %d is at or below the stored low watermark %d", target, *floor.TargetEpoch)
	}
	surrounding, err := tx.FindSurrounding(validatorID, source, target)
	if err != nil {
		return err
	}
	if surrounding != nil {
		return fmt.Errorf(
			"attestation (%d, %d) is surrounded by existing vote (%d, %d)",
			source, target, surrounding.SourceEpoch, surrounding.TargetEpoch,
		)
	}
	surrounded, err := tx.FindSurrounded(validatorID, source, target)
	if err != nil {
		return err
	}
	if surrounded != nil {
		return fmt.Errorf(
			"attestation (%d, %d) surrounds existing vote (%d, %d)",
			source, target, surrounded.SourceEpoch, surrounded.TargetEpoch,
		)
	}
	return tx.InsertAttestation(&common.SignedAttestation{
		ValidatorID: validatorID,
		SourceEpoch: source,
		TargetEpoch: target,
		SigningRoot: signingRoot,
	})
}

func signingRootFromHex(str string) ([]byte, error) {
	if str == "" {
		return nil, nil
	}
	root, err := BytesFromHex(str)
	if err != nil {
		return nil, fmt.Errorf("%s is not a valid signing root: %v", str, err)
	}
	return root, nil
}
