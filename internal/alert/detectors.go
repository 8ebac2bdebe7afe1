package alert

import (
	"math"
	"time"

	"github.com/linkeye/internal/models"
)

// AckTolerance is how far above the acknowledged loss the current loss may
// sit before the acknowledgment stops covering it.
const AckTolerance = 0.2

type RapidOutcome int

const (
	RapidNoHistory RapidOutcome = iota
	RapidJitter
	RapidBelowThreshold
	RapidInsufficientSamples
	RapidNotSustained
	RapidSustained
)

func (o RapidOutcome) String() string {
	switch o {
	case RapidNoHistory:
		return "no_history"
	case RapidJitter:
		return "jitter"
	case RapidBelowThreshold:
		return "below_threshold"
	case RapidInsufficientSamples:
		return "insufficient_samples"
	case RapidNotSustained:
		return "not_sustained"
	case RapidSustained:
		return "sustained"
	default:
		return "unknown"
	}
}

type RapidParams struct {
	Increase float64
	Jitter   float64
	Window   int
}

type RapidResult struct {
	Outcome RapidOutcome
	// Jump is the change from the previous sample.
	Jump float64
	// Baseline is the sample right before the confirmation window.
	Baseline float64
	// TotalJump is current minus Baseline.
	TotalJump float64
	Window    []float64
}

// EvaluateRapidJump checks current against the recent history. When
// confirming is set a jump was already seen on an earlier cycle, so the
// jitter and step gates are skipped and only the sustain check runs.
func EvaluateRapidJump(history []float64, current float64, confirming bool, p RapidParams) RapidResult {
	if len(history) == 0 {
		return RapidResult{Outcome: RapidNoHistory}
	}
	res := RapidResult{Jump: current - history[len(history)-1]}

	if !confirming {
		if math.Abs(res.Jump) < p.Jitter {
			res.Outcome = RapidJitter
			return res
		}
		if res.Jump < p.Increase {
			res.Outcome = RapidBelowThreshold
			return res
		}
	}

	samples := append(append(make([]float64, 0, len(history)+1), history...), current)
	n := p.Window
	if len(samples) < n {
		res.Outcome = RapidInsufficientSamples
		return res
	}
	res.Window = samples[len(samples)-n:]
	res.Baseline = res.Window[0]
	if len(samples) > n {
		res.Baseline = samples[len(samples)-n-1]
	}
	res.TotalJump = current - res.Baseline

	floor := res.Baseline + p.Increase - p.Jitter
	for _, v := range res.Window {
		if v < floor {
			res.Outcome = RapidNotSustained
			return res
		}
	}
	res.Outcome = RapidSustained
	return res
}

type DriftOutcome int

const (
	DriftNoBaseline DriftOutcome = iota
	DriftBelowThreshold
	DriftAcknowledged
	DriftExceeded
)

type DriftResult struct {
	Outcome  DriftOutcome
	Baseline float64
	Drift    float64
}

// EvaluateDrift compares current with the daily baseline. An active
// acknowledgment at or near the current level silences the detector.
func EvaluateDrift(baseline float64, current, threshold float64, ack *models.Acknowledgment, now time.Time) DriftResult {
	if baseline <= 0 {
		return DriftResult{Outcome: DriftNoBaseline}
	}
	res := DriftResult{Baseline: baseline, Drift: current - baseline}
	if res.Drift < threshold {
		res.Outcome = DriftBelowThreshold
		return res
	}
	if ack != nil && ack.Active(now) && ack.AcknowledgedLoss >= current-AckTolerance {
		res.Outcome = DriftAcknowledged
		return res
	}
	res.Outcome = DriftExceeded
	return res
}

// ThresholdLimit returns the loss above which a link is out of budget. ok is
// false when the link has no reference loss configured.
func ThresholdLimit(link models.LinkDefinition, defaultMargin float64) (limit float64, ok bool) {
	if link.IsSingle || link.LossReference <= 0 {
		return 0, false
	}
	margin := link.AlertMargin
	if margin <= 0 {
		margin = defaultMargin
	}
	return link.LossReference + margin, true
}
