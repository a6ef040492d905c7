package kv

// The fields below define the top-level buckets of the database. Block and
// attestation history and watermarks all nest a per-validator bucket keyed
// by the validator's big-endian id.
var (
	validatorsBucket         = []byte("validators-bucket")
	validatorIDsBucket       = []byte("validator-ids-bucket")
	signedBlocksBucket       = []byte("signed-blocks-bucket")
	signedAttestationsBucket = []byte("signed-attestations-bucket")
	lowWatermarksBucket      = []byte("low-watermarks-bucket")
	genesisInfoBucket        = []byte("genesis-info-bucket")

	// Keys inside a validator's low watermarks bucket.
	blockSlotWatermarkKey   = []byte("block-slot")
	sourceEpochWatermarkKey = []byte("source-epoch")
	targetEpochWatermarkKey = []byte("target-epoch")

	// Key inside the genesis info bucket.
	genesisValidatorsRootKey = []byte("genesis-validators-root")
)
