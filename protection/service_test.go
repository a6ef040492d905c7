package protection_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/db/iface"
	"github.com/stakeguard/slashguard/db/kv"
	"github.com/stakeguard/slashguard/protection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pubKey      = []byte{0x2A}
	otherPubKey = []byte{0x2B}
)

func setupService(t *testing.T) (*protection.Service, *kv.Store) {
	ctx := context.Background()
	store, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err, "Failed to instantiate DB")
	t.Cleanup(func() {
		require.NoError(t, store.Close(), "Failed to close database")
	})
	srv, err := protection.NewService(ctx, &protection.Config{HistoryStore: store})
	require.NoError(t, err)
	require.NoError(t, srv.RegisterValidators(ctx, [][]byte{pubKey}))
	return srv, store
}

func validatorID(t *testing.T, store *kv.Store, key []byte) uint64 {
	var id uint64
	require.NoError(t, store.View(context.Background(), func(tx iface.HistoryTx) error {
		validators, err := tx.RetrieveValidators([][]byte{key})
		if err != nil {
			return err
		}
		require.Len(t, validators, 1)
		id = validators[0].ID
		return nil
	}))
	return id
}

func blockCount(t *testing.T, store *kv.Store, id uint64) int {
	var n int
	require.NoError(t, store.View(context.Background(), func(tx iface.HistoryTx) error {
		blocks, err := tx.BlocksForValidator(id)
		if err != nil {
			return err
		}
		n = len(blocks)
		return nil
	}))
	return n
}

func attestationCount(t *testing.T, store *kv.Store, id uint64) int {
	var n int
	require.NoError(t, store.View(context.Background(), func(tx iface.HistoryTx) error {
		atts, err := tx.AttestationsForValidator(id)
		if err != nil {
			return err
		}
		n = len(atts)
		return nil
	}))
	return n
}

func TestMaySignBlock_PermitsAndRecordsFirstProposal(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	ok, err := srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	id := validatorID(t, store, pubKey)
	require.Equal(t, 1, blockCount(t, store, id))

	// Identical re-sign is permitted without a second record.
	ok, err = srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, blockCount(t, store, id))
}

func TestMaySignBlock_DeniesConflictingRootAtSameSlot(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	ok, err := srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = srv.MaySignBlock(ctx, pubKey, []byte{0x04}, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	id := validatorID(t, store, pubKey)
	assert.Equal(t, 1, blockCount(t, store, id))
}

func TestMaySignBlock_DeniesWhenStoredRootUnknown(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	id := validatorID(t, store, pubKey)
	require.NoError(t, store.Update(ctx, func(tx iface.HistoryTx) error {
		return tx.InsertBlock(&common.SignedBlock{ValidatorID: id, Slot: 2, SigningRoot: nil})
	}))
	// A record with unknown content forbids signing anything at its slot.
	ok, err := srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaySignBlock_WatermarkBoundary(t *testing.T) {
	ctx := context.Background()
	srv, _ := setupService(t)
	require.NoError(t, srv.SetWatermarks(ctx, pubKey, common.Watermarks{
		BlockSlot: common.Uint64Ptr(5),
	}))
	// A slot equal to the watermark is refused, strictly greater is required.
	ok, err := srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 6)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMaySignBlock_UnregisteredValidator(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	_, err := srv.MaySignBlock(ctx, otherPubKey, []byte{0x03}, 2)
	require.ErrorIs(t, err, protection.ErrUnregisteredValidator)

	// No record was written for any validator.
	require.NoError(t, store.View(ctx, func(tx iface.HistoryTx) error {
		validators, err := tx.Validators()
		require.NoError(t, err)
		require.Len(t, validators, 1)
		blocks, err := tx.BlocksForValidator(validators[0].ID)
		require.NoError(t, err)
		assert.Empty(t, blocks)
		return nil
	}))
}

func TestMaySignBlock_RegistryIsTheAuthority(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	// Write the validator row behind the service's back. The cache never saw
	// it, so signing must still be refused.
	require.NoError(t, store.Update(ctx, func(tx iface.HistoryTx) error {
		_, err := tx.RegisterValidators([][]byte{otherPubKey})
		return err
	}))
	_, err := srv.MaySignBlock(ctx, otherPubKey, []byte{0x03}, 2)
	require.ErrorIs(t, err, protection.ErrUnregisteredValidator)
}

func TestMaySignAttestation_SurroundDenials(t *testing.T) {
	ctx := context.Background()
	srv, _ := setupService(t)
	ok, err := srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 10, 20)
	require.NoError(t, err)
	require.True(t, ok)

	// (9, 21) strictly contains (10, 20): candidate surrounds a recorded vote.
	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x04}, 9, 21)
	require.NoError(t, err)
	assert.False(t, ok)

	// (11, 19) sits strictly inside (10, 20): candidate is surrounded.
	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x04}, 11, 19)
	require.NoError(t, err)
	assert.False(t, ok)

	// (11, 21) shifts both epochs forward: no surround relation, permitted.
	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x04}, 11, 21)
	require.NoError(t, err)
	assert.True(t, ok)

	// (9, 19) shifts both epochs backward: also no surround relation.
	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x04}, 9, 19)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMaySignAttestation_IdempotentReSign(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	ok, err := srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 10, 20)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 10, 20)
	require.NoError(t, err)
	assert.True(t, ok)

	id := validatorID(t, store, pubKey)
	assert.Equal(t, 1, attestationCount(t, store, id))
}

func TestMaySignAttestation_DoubleVoteDenied(t *testing.T) {
	ctx := context.Background()
	srv, _ := setupService(t)
	ok, err := srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 10, 20)
	require.NoError(t, err)
	require.True(t, ok)

	// A different root for the same target epoch is a double vote.
	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x04}, 10, 20)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaySignAttestation_UnknownStoredRootDeniesTarget(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	id := validatorID(t, store, pubKey)
	require.NoError(t, store.Update(ctx, func(tx iface.HistoryTx) error {
		return tx.InsertAttestation(&common.SignedAttestation{
			ValidatorID: id, SourceEpoch: 10, TargetEpoch: 20, SigningRoot: nil,
		})
	}))
	ok, err := srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 10, 20)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaySignAttestation_WatermarkBoundaries(t *testing.T) {
	ctx := context.Background()
	srv, _ := setupService(t)
	require.NoError(t, srv.SetWatermarks(ctx, pubKey, common.Watermarks{
		SourceEpoch: common.Uint64Ptr(5),
		TargetEpoch: common.Uint64Ptr(8),
	}))
	// Source below its watermark is refused; equal is allowed.
	ok, err := srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 4, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 5, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	// Target equal to its watermark is refused, strictly greater is required.
	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x04}, 5, 8)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaySignAttestation_SourceExceedsTargetDeniedWithoutStoreAccess(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	ok, err := srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 21, 20)
	require.NoError(t, err)
	assert.False(t, ok)

	id := validatorID(t, store, pubKey)
	assert.Equal(t, 0, attestationCount(t, store, id))
}

func TestMaySignAttestation_GenesisSourceEqualsTarget(t *testing.T) {
	ctx := context.Background()
	srv, _ := setupService(t)
	ok, err := srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 0, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetWatermarks_NeverLowers(t *testing.T) {
	ctx := context.Background()
	srv, _ := setupService(t)
	require.NoError(t, srv.SetWatermarks(ctx, pubKey, common.Watermarks{
		BlockSlot: common.Uint64Ptr(10),
	}))
	require.NoError(t, srv.SetWatermarks(ctx, pubKey, common.Watermarks{
		BlockSlot: common.Uint64Ptr(5),
	}))
	ok, err := srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 11)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewService_WarmsRegistryFromDisk(t *testing.T) {
	ctx := context.Background()
	_, store := setupService(t)
	// A second service over the same store knows the key without a fresh
	// registration call.
	srv, err := protection.NewService(ctx, &protection.Config{HistoryStore: store})
	require.NoError(t, err)
	ok, err := srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterValidators_Idempotent(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	require.NoError(t, srv.RegisterValidators(ctx, [][]byte{pubKey, otherPubKey}))
	require.NoError(t, srv.RegisterValidators(ctx, [][]byte{pubKey, otherPubKey}))
	require.NoError(t, store.View(ctx, func(tx iface.HistoryTx) error {
		validators, err := tx.Validators()
		require.NoError(t, err)
		assert.Len(t, validators, 2)
		return nil
	}))
}

func TestExportImport_RoundTripPreservesDecisions(t *testing.T) {
	ctx := context.Background()
	srv, store := setupService(t)
	require.NoError(t, store.Update(ctx, func(tx iface.HistoryTx) error {
		return tx.SaveGenesisValidatorsRoot(bytes.Repeat([]byte{0x5e}, 32))
	}))
	ok, err := srv.MaySignBlock(ctx, pubKey, []byte{0x03}, 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = srv.MaySignAttestation(ctx, pubKey, []byte{0x03}, 10, 20)
	require.NoError(t, err)
	require.True(t, ok)

	exported, err := srv.ExportInterchange(ctx)
	require.NoError(t, err)

	freshStore, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, freshStore.Close()) })
	freshSrv, err := protection.NewService(ctx, &protection.Config{HistoryStore: freshStore})
	require.NoError(t, err)
	require.NoError(t, freshSrv.ImportInterchange(ctx, bytes.NewReader(exported)))

	// The fresh engine refuses everything the original engine would refuse.
	ok, err = freshSrv.MaySignBlock(ctx, pubKey, []byte{0x04}, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = freshSrv.MaySignAttestation(ctx, pubKey, []byte{0x04}, 9, 21)
	require.NoError(t, err)
	assert.False(t, ok)
	// And permits fresh history above the imported watermarks.
	ok, err = freshSrv.MaySignBlock(ctx, pubKey, []byte{0x05}, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}
