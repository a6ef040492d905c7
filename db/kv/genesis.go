package kv

import (
	"bytes"
	"fmt"
)

// SaveGenesisValidatorsRoot saves the genesis validators root. Once stored,
// the root cannot be overwritten with a different value; interchange imports
// for another chain must be rejected rather than mixed into this history.
func (t *historyTx) SaveGenesisValidatorsRoot(root []byte) error {
	bucket := t.tx.Bucket(genesisInfoBucket)
	enc := bucket.Get(genesisValidatorsRootKey)
	if len(enc) != 0 && !bytes.Equal(enc, root) {
		return fmt.Errorf("cannot overwrite existing genesis validators root: %#x", enc)
	}
	return bucket.Put(genesisValidatorsRootKey, root)
}

// GenesisValidatorsRoot retrieves the stored genesis validators root, or nil
// when none has been saved.
func (t *historyTx) GenesisValidatorsRoot() ([]byte, error) {
	enc := t.tx.Bucket(genesisInfoBucket).Get(genesisValidatorsRootKey)
	if len(enc) == 0 {
		return nil, nil
	}
	return clone(enc), nil
}
