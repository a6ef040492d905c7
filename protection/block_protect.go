package protection

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/stakeguard/slashguard/db/iface"
)

// blockEvaluator implements the block proposal safety rules over a history
// transaction.
type blockEvaluator struct{}

// EvaluateBlock checks a candidate proposal at the given slot. A slot at or
// below the validator's low watermark is refused: history below the watermark
// may have been pruned, so its absence proves nothing. A recorded proposal at
// the same slot permits only an exact re-sign of the same known signing root.
func (blockEvaluator) EvaluateBlock(
	tx iface.HistoryTx, validatorID uint64, signingRoot []byte, slot uint64,
) (Decision, error) {
	marks, err := tx.Watermarks(validatorID)
	if err != nil {
		return Decision{}, errors.Wrap(err, "could not get low watermarks")
	}
	if marks.BlockSlot != nil && slot <= *marks.BlockSlot {
		return deny(reasonBlockWatermark), nil
	}
	existing, err := tx.FindBlock(validatorID, slot)
	if err != nil {
		return Decision{}, errors.Wrapf(err, "could not get proposal history at slot %d", slot)
	}
	if existing == nil {
		return permit(true), nil
	}
	if existing.SigningRoot != nil && signingRoot != nil && bytes.Equal(existing.SigningRoot, signingRoot) {
		return permit(false), nil
	}
	return deny(reasonDoubleProposal), nil
}
