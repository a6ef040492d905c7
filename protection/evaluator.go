package protection

import "github.com/stakeguard/slashguard/db/iface"

// Decision is the outcome of evaluating a candidate signature against a
// validator's history. InsertRecord is true only on the first permit for a
// coordinate; an idempotent re-sign of an already recorded artifact permits
// without writing anything.
type Decision struct {
	Permitted    bool
	InsertRecord bool
	DenyReason   string
}

func permit(insert bool) Decision {
	return Decision{Permitted: true, InsertRecord: insert}
}

func deny(reason string) Decision {
	return Decision{DenyReason: reason}
}

// BlockEvaluator decides whether signing a block proposal is safe given the
// history visible inside the transaction.
type BlockEvaluator interface {
	EvaluateBlock(tx iface.HistoryTx, validatorID uint64, signingRoot []byte, slot uint64) (Decision, error)
}

// AttestationEvaluator decides whether signing an attestation is safe given
// the history visible inside the transaction.
type AttestationEvaluator interface {
	EvaluateAttestation(tx iface.HistoryTx, validatorID uint64, signingRoot []byte, source, target uint64) (Decision, error)
}
