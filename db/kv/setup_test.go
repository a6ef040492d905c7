package kv

import (
	"context"
	"testing"

	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/db/iface"
	"github.com/stretchr/testify/require"
)

func setupDB(t testing.TB) *Store {
	store, err := NewKVStore(t.TempDir())
	require.NoError(t, err, "Failed to instantiate DB")
	t.Cleanup(func() {
		require.NoError(t, store.Close(), "Failed to close database")
	})
	return store
}

func registerTestValidator(t testing.TB, store *Store, pubKey []byte) uint64 {
	var id uint64
	require.NoError(t, store.Update(context.Background(), func(tx iface.HistoryTx) error {
		validators, err := tx.RegisterValidators([][]byte{pubKey})
		if err != nil {
			return err
		}
		id = validators[0].ID
		return nil
	}))
	return id
}

func insertTestAttestation(t testing.TB, store *Store, validatorID, source, target uint64, root []byte) {
	require.NoError(t, store.Update(context.Background(), func(tx iface.HistoryTx) error {
		return tx.InsertAttestation(&common.SignedAttestation{
			ValidatorID: validatorID,
			SourceEpoch: source,
			TargetEpoch: target,
			SigningRoot: root,
		})
	}))
}
