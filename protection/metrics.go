package protection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Denial reasons used as the "reason" label on the counters below.
const (
	reasonBlockWatermark  = "slot_at_or_below_watermark"
	reasonDoubleProposal  = "double_proposal"
	reasonMalformed       = "source_exceeds_target"
	reasonSourceWatermark = "source_below_watermark"
	reasonTargetWatermark = "target_at_or_below_watermark"
	reasonDoubleVote      = "double_vote"
	reasonSurrounded      = "surrounded_vote"
	reasonSurrounding     = "surrounding_vote"
)

var (
	deniedProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slashguard_denied_proposals_total",
		Help: "Total number of block proposal signing requests refused by slashing protection",
	}, []string{"reason"})
	deniedAttestationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slashguard_denied_attestations_total",
		Help: "Total number of attestation signing requests refused by slashing protection",
	}, []string{"reason"})
)
