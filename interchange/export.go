package interchange

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/stakeguard/slashguard/db/iface"
)

// ExportInterchangeJSON serializes the complete history store into an
// EIP-3076 interchange document, one data entry per registered validator.
// Exporting requires a pinned genesis validators root so the document can be
// matched against the right chain on import.
func ExportInterchangeJSON(ctx context.Context, store iface.HistoryStore) ([]byte, error) {
	interchangeJSON := &PlainInterchangeFormat{}
	if err := store.View(ctx, func(tx iface.HistoryTx) error {
		genesisRoot, err := tx.GenesisValidatorsRoot()
		if err != nil {
			return err
		}
		if genesisRoot == nil {
			return errors.New("no genesis validators root stored, cannot export")
		}
		interchangeJSON.Metadata.InterchangeFormatVersion = InterchangeFormatVersion
		interchangeJSON.Metadata.GenesisValidatorsRoot = HexFromBytes(genesisRoot)

		validators, err := tx.Validators()
		if err != nil {
			return err
		}
		interchangeJSON.Data = make([]*ProtectionData, 0, len(validators))
		for _, validator := range validators {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := exportValidatorEntry(tx, validator.ID, validator.PublicKey)
			if err != nil {
				return errors.Wrapf(err, "could not export history for validator %#x", validator.PublicKey)
			}
			interchangeJSON.Data = append(interchangeJSON.Data, entry)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	encoded, err := json.MarshalIndent(interchangeJSON, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal interchange document")
	}
	return encoded, nil
}

func exportValidatorEntry(tx iface.HistoryTx, validatorID uint64, pubKey []byte) (*ProtectionData, error) {
	blocks, err := tx.BlocksForValidator(validatorID)
	if err != nil {
		return nil, err
	}
	signedBlocks := make([]*SignedBlock, 0, len(blocks))
	for _, block := range blocks {
		signedBlocks = append(signedBlocks, &SignedBlock{
			Slot:        fmt.Sprintf("%d", block.Slot),
			SigningRoot: HexFromBytes(block.SigningRoot),
		})
	}
	atts, err := tx.AttestationsForValidator(validatorID)
	if err != nil {
		return nil, err
	}
	signedAttestations := make([]*SignedAttestation, 0, len(atts))
	for _, att := range atts {
		signedAttestations = append(signedAttestations, &SignedAttestation{
			SourceEpoch: fmt.Sprintf("%d", att.SourceEpoch),
			TargetEpoch: fmt.Sprintf("%d", att.TargetEpoch),
			SigningRoot: HexFromBytes(att.SigningRoot),
		})
	}
	return &ProtectionData{
		Pubkey:             HexFromBytes(pubKey),
		SignedBlocks:       signedBlocks,
		SignedAttestations: signedAttestations,
	}, nil
}
