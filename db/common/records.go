// Package common defines the records persisted by the slashing protection
// history store.
package common

// Validator maps a public key to the small numeric id used as the primary
// key of all history records. Ids are assigned by the store on first
// registration and are never reused.
type Validator struct {
	ID        uint64
	PublicKey []byte
}

// SignedBlock records a permitted block proposal signature. A nil SigningRoot
// means the proposal is known to exist but its content is unknown; such a
// record forbids any future signing at the same slot.
type SignedBlock struct {
	ValidatorID uint64
	Slot        uint64
	SigningRoot []byte
}

// SignedAttestation records a permitted attestation signature, uniquely
// identified by (ValidatorID, TargetEpoch). A nil SigningRoot carries the
// same meaning as for SignedBlock.
type SignedAttestation struct {
	ValidatorID uint64
	SourceEpoch uint64
	TargetEpoch uint64
	SigningRoot []byte
}

// Watermarks holds the per-validator low watermarks. A nil field means the
// watermark has never been established. Watermarks only ever rise.
type Watermarks struct {
	BlockSlot   *uint64
	SourceEpoch *uint64
	TargetEpoch *uint64
}

// Uint64Ptr is a convenience for building Watermarks literals.
func Uint64Ptr(v uint64) *uint64 {
	return &v
}
