package kv

import (
	"github.com/pkg/errors"
	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/encoding/bytesutil"
)

// RetrieveValidators looks up the validators already registered for the given
// public keys. Unknown keys are simply absent from the result.
func (t *historyTx) RetrieveValidators(pubKeys [][]byte) ([]*common.Validator, error) {
	bucket := t.tx.Bucket(validatorsBucket)
	validators := make([]*common.Validator, 0, len(pubKeys))
	for _, pubKey := range pubKeys {
		idBytes := bucket.Get(pubKey)
		if idBytes == nil {
			continue
		}
		validators = append(validators, &common.Validator{
			ID:        bytesutil.BytesToUint64BigEndian(idBytes),
			PublicKey: clone(pubKey),
		})
	}
	return validators, nil
}

// RegisterValidators inserts validator rows for the given public keys in the
// caller's order, assigning ids from the bucket sequence. Keys that already
// exist keep their id, making the operation idempotent. Returns a validator
// for every input key, in input order.
func (t *historyTx) RegisterValidators(pubKeys [][]byte) ([]*common.Validator, error) {
	bucket := t.tx.Bucket(validatorsBucket)
	idsBucket := t.tx.Bucket(validatorIDsBucket)
	validators := make([]*common.Validator, 0, len(pubKeys))
	for _, pubKey := range pubKeys {
		if len(pubKey) == 0 {
			return nil, errors.New("cannot register an empty public key")
		}
		if idBytes := bucket.Get(pubKey); idBytes != nil {
			validators = append(validators, &common.Validator{
				ID:        bytesutil.BytesToUint64BigEndian(idBytes),
				PublicKey: clone(pubKey),
			})
			continue
		}
		id, err := bucket.NextSequence()
		if err != nil {
			return nil, errors.Wrap(err, "could not assign a validator id")
		}
		idBytes := bytesutil.Uint64ToBytesBigEndian(id)
		if err := bucket.Put(pubKey, idBytes); err != nil {
			return nil, errors.Wrapf(err, "could not register validator %#x", pubKey)
		}
		if err := idsBucket.Put(idBytes, pubKey); err != nil {
			return nil, errors.Wrapf(err, "could not index validator %#x", pubKey)
		}
		validators = append(validators, &common.Validator{
			ID:        id,
			PublicKey: clone(pubKey),
		})
	}
	return validators, nil
}

// Validators returns every registered validator in id order.
func (t *historyTx) Validators() ([]*common.Validator, error) {
	idsBucket := t.tx.Bucket(validatorIDsBucket)
	validators := make([]*common.Validator, 0)
	if err := idsBucket.ForEach(func(idBytes, pubKey []byte) error {
		validators = append(validators, &common.Validator{
			ID:        bytesutil.BytesToUint64BigEndian(idBytes),
			PublicKey: clone(pubKey),
		})
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "could not iterate validators")
	}
	return validators, nil
}

// clone copies bytes out of the transaction's mmap, which is only valid for
// the transaction's lifetime.
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
