package protection

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/stakeguard/slashguard/db/iface"
)

// attestationEvaluator implements the attestation safety rules over a history
// transaction.
type attestationEvaluator struct{}

// EvaluateAttestation checks a candidate attestation span (source, target).
// The rules run in order against the same snapshot: watermark floors, the
// recorded attestation at the same target epoch, then the surround conditions
// in both directions. Callers must reject source > target before reaching the
// store.
func (attestationEvaluator) EvaluateAttestation(
	tx iface.HistoryTx, validatorID uint64, signingRoot []byte, source, target uint64,
) (Decision, error) {
	marks, err := tx.Watermarks(validatorID)
	if err != nil {
		return Decision{}, errors.Wrap(err, "could not get low watermarks")
	}
	// Source may equal its watermark, target must strictly exceed its own.
	if marks.SourceEpoch != nil && source < *marks.SourceEpoch {
		return deny(reasonSourceWatermark), nil
	}
	if marks.TargetEpoch != nil && target <= *marks.TargetEpoch {
		return deny(reasonTargetWatermark), nil
	}
	existing, err := tx.FindAttestationByTarget(validatorID, target)
	if err != nil {
		return Decision{}, errors.Wrapf(err, "could not get attestation history at target %d", target)
	}
	if existing != nil {
		if existing.SigningRoot != nil && signingRoot != nil && bytes.Equal(existing.SigningRoot, signingRoot) {
			return permit(false), nil
		}
		return deny(reasonDoubleVote), nil
	}
	surrounding, err := tx.FindSurrounding(validatorID, source, target)
	if err != nil {
		return Decision{}, errors.Wrap(err, "could not check for surrounding votes")
	}
	if surrounding != nil {
		return deny(reasonSurrounded), nil
	}
	surrounded, err := tx.FindSurrounded(validatorID, source, target)
	if err != nil {
		return Decision{}, errors.Wrap(err, "could not check for surrounded votes")
	}
	if surrounded != nil {
		return deny(reasonSurrounding), nil
	}
	return permit(true), nil
}
