// Package iface defines the contract between the slashing protection rules
// and the history store backing them.
package iface

import (
	"context"
	"io"

	"github.com/stakeguard/slashguard/db/common"
)

// HistoryTx is the set of history operations available inside a single store
// transaction. Every method observes the same snapshot, and writes become
// visible only if the enclosing transaction commits.
type HistoryTx interface {
	// Validator identity operations.
	RetrieveValidators(pubKeys [][]byte) ([]*common.Validator, error)
	RegisterValidators(pubKeys [][]byte) ([]*common.Validator, error)
	Validators() ([]*common.Validator, error)

	// Block proposal history.
	FindBlock(validatorID, slot uint64) (*common.SignedBlock, error)
	InsertBlock(block *common.SignedBlock) error
	BlocksForValidator(validatorID uint64) ([]*common.SignedBlock, error)

	// Attestation history. FindSurrounding returns any stored attestation
	// with source < the given source and target > the given target, both
	// strict; FindSurrounded is the mirror image.
	FindAttestationByTarget(validatorID, target uint64) (*common.SignedAttestation, error)
	FindSurrounding(validatorID, source, target uint64) (*common.SignedAttestation, error)
	FindSurrounded(validatorID, source, target uint64) (*common.SignedAttestation, error)
	InsertAttestation(att *common.SignedAttestation) error
	AttestationsForValidator(validatorID uint64) ([]*common.SignedAttestation, error)

	// Low watermarks. RaiseWatermarks keeps the maximum of the stored and
	// supplied value per field; it can never lower a watermark.
	Watermarks(validatorID uint64) (*common.Watermarks, error)
	RaiseWatermarks(validatorID uint64, marks *common.Watermarks) error

	// Genesis information. SaveGenesisValidatorsRoot fails when a different
	// root has already been stored.
	GenesisValidatorsRoot() ([]byte, error)
	SaveGenesisValidatorsRoot(root []byte) error
}

// HistoryStore provides transactional access to slashing protection history.
// Update runs fn in the store's single writable transaction; concurrent
// updates are serialized by the store, which is what couples every signing
// decision to the record it writes.
type HistoryStore interface {
	io.Closer
	Update(ctx context.Context, fn func(HistoryTx) error) error
	View(ctx context.Context, fn func(HistoryTx) error) error
	DatabasePath() string
	ClearDB() error
}
