// Package protection implements the slashing protection decision engine: it
// mediates every signing request for the validator keys it protects and
// refuses any request that could complete a slashable offense.
package protection

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stakeguard/slashguard/db/common"
	"github.com/stakeguard/slashguard/db/iface"
	"github.com/stakeguard/slashguard/interchange"
	"go.opencensus.io/trace"
)

// Service is the public facade of the slashing protection engine. All methods
// are safe for concurrent use; decisions for the same validator are
// serialized by the store's single-writer transaction.
type Service struct {
	store        iface.HistoryStore
	registry     *registry
	blocks       BlockEvaluator
	attestations AttestationEvaluator
}

// Config for the slashing protection service.
type Config struct {
	HistoryStore iface.HistoryStore
}

// NewService creates the protection service and warms the registry cache from
// the validators already stored on disk.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	s := &Service{
		store:        cfg.HistoryStore,
		registry:     newRegistry(),
		blocks:       blockEvaluator{},
		attestations: attestationEvaluator{},
	}
	if err := s.warmRegistry(ctx); err != nil {
		return nil, errors.Wrap(err, "could not load registered validators")
	}
	return s, nil
}

func (s *Service) warmRegistry(ctx context.Context) error {
	return s.store.View(ctx, func(tx iface.HistoryTx) error {
		validators, err := tx.Validators()
		if err != nil {
			return err
		}
		s.registry.extend(validators)
		return nil
	})
}

// RegisterValidators makes the given public keys known to the engine. Keys
// already registered keep their ids; new keys are inserted in the caller's
// order within a single transaction. Idempotent.
func (s *Service) RegisterValidators(ctx context.Context, pubKeys [][]byte) error {
	ctx, span := trace.StartSpan(ctx, "Protection.RegisterValidators")
	defer span.End()
	var registered []*common.Validator
	if err := s.store.Update(ctx, func(tx iface.HistoryTx) error {
		var err error
		registered, err = tx.RegisterValidators(pubKeys)
		return err
	}); err != nil {
		return errors.Wrap(err, "could not register validators")
	}
	s.registry.extend(registered)
	log.WithField("count", len(pubKeys)).Debug("Registered validators for slashing protection")
	return nil
}

// MaySignBlock decides whether signing a block proposal at the given slot is
// safe for the key. On permit, the proposal is recorded in the same
// transaction as the check, so the decision holds for any future request. A
// false return with nil error is a slashing denial; any error means the
// caller must refuse to sign.
func (s *Service) MaySignBlock(
	ctx context.Context, pubKey, signingRoot []byte, slot uint64,
) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "Protection.MaySignBlock")
	defer span.End()
	validatorID, err := s.registry.resolve(pubKey)
	if err != nil {
		return false, err
	}
	var decision Decision
	if err := s.store.Update(ctx, func(tx iface.HistoryTx) error {
		decision, err = s.blocks.EvaluateBlock(tx, validatorID, signingRoot, slot)
		if err != nil {
			return err
		}
		if decision.InsertRecord {
			return tx.InsertBlock(&common.SignedBlock{
				ValidatorID: validatorID,
				Slot:        slot,
				SigningRoot: signingRoot,
			})
		}
		return nil
	}); err != nil {
		return false, errors.Wrapf(err, "block signing decision failed for validator %#x", pubKey)
	}
	if !decision.Permitted {
		deniedProposalsTotal.WithLabelValues(decision.DenyReason).Inc()
		log.WithFields(logrus.Fields{
			"pubKey": pubKeyLogField(pubKey),
			"slot":   slot,
			"reason": decision.DenyReason,
		}).Warn("Refused to sign block proposal")
	}
	return decision.Permitted, nil
}

// MaySignAttestation decides whether signing an attestation with the given
// source and target epochs is safe for the key. A malformed span with
// source > target is refused without touching the store. On permit, the
// attestation is recorded in the same transaction as the check.
func (s *Service) MaySignAttestation(
	ctx context.Context, pubKey, signingRoot []byte, source, target uint64,
) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "Protection.MaySignAttestation")
	defer span.End()
	validatorID, err := s.registry.resolve(pubKey)
	if err != nil {
		return false, err
	}
	if source > target {
		deniedAttestationsTotal.WithLabelValues(reasonMalformed).Inc()
		log.WithFields(logrus.Fields{
			"pubKey": pubKeyLogField(pubKey),
			"source": source,
			"target": target,
		}).Warn("Refused to sign malformed attestation")
		return false, nil
	}
	var decision Decision
	if err := s.store.Update(ctx, func(tx iface.HistoryTx) error {
		decision, err = s.attestations.EvaluateAttestation(tx, validatorID, signingRoot, source, target)
		if err != nil {
			return err
		}
		if decision.InsertRecord {
			return tx.InsertAttestation(&common.SignedAttestation{
				ValidatorID: validatorID,
				SourceEpoch: source,
				TargetEpoch: target,
				SigningRoot: signingRoot,
			})
		}
		return nil
	}); err != nil {
		return false, errors.Wrapf(err, "attestation signing decision failed for validator %#x", pubKey)
	}
	if !decision.Permitted {
		deniedAttestationsTotal.WithLabelValues(decision.DenyReason).Inc()
		log.WithFields(logrus.Fields{
			"pubKey": pubKeyLogField(pubKey),
			"source": source,
			"target": target,
			"reason": decision.DenyReason,
		}).Warn("Refused to sign attestation")
	}
	return decision.Permitted, nil
}

// SetWatermarks raises the validator's low watermarks to the given values.
// Watermarks only ever rise; fields lower than the stored value are ignored.
func (s *Service) SetWatermarks(ctx context.Context, pubKey []byte, marks common.Watermarks) error {
	ctx, span := trace.StartSpan(ctx, "Protection.SetWatermarks")
	defer span.End()
	validatorID, err := s.registry.resolve(pubKey)
	if err != nil {
		return err
	}
	return s.store.Update(ctx, func(tx iface.HistoryTx) error {
		return tx.RaiseWatermarks(validatorID, &marks)
	})
}

// ImportInterchange loads an EIP-3076 interchange document into the history
// store and registers the imported keys with the engine.
func (s *Service) ImportInterchange(ctx context.Context, r io.Reader) error {
	ctx, span := trace.StartSpan(ctx, "Protection.ImportInterchange")
	defer span.End()
	if err := interchange.ImportInterchangeJSON(ctx, s.store, r); err != nil {
		return err
	}
	return s.warmRegistry(ctx)
}

// ExportInterchange serializes the complete history store into an EIP-3076
// interchange document.
func (s *Service) ExportInterchange(ctx context.Context) ([]byte, error) {
	ctx, span := trace.StartSpan(ctx, "Protection.ExportInterchange")
	defer span.End()
	return interchange.ExportInterchangeJSON(ctx, s.store)
}

func pubKeyLogField(pubKey []byte) string {
	const maxLen = 8
	if len(pubKey) > maxLen {
		pubKey = pubKey[:maxLen]
	}
	return fmt.Sprintf("%#x", pubKey)
}
