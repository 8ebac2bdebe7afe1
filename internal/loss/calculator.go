package loss

import (
	"errors"
	"math"

	"github.com/linkeye/internal/models"
)

const (
	// MinPlausibleLoss is the smallest dual-ended loss taken at face value.
	// Anything lower is a telemetry glitch.
	MinPlausibleLoss = 0.1

	// Line-power readings below this floor (dBm) are reported by cards
	// with no signal and treated as missing.
	invalidPowerFloor = -50.0
)

var (
	ErrCalculationIncomplete = errors.New("line power readings incomplete")
	ErrOriginNotAmplifier    = errors.New("origin card is not an amplifier")
	ErrTargetNotFound        = errors.New("no amplifier found at destination")
)

// Result is the outcome of a loss calculation for one link.
type Result struct {
	Origin      models.CardSnapshot
	Target      *models.CardSnapshot
	OutPower    float64
	InPower     float64
	SpanLoss    float64
	CurrentLoss float64
	// FallbackPair is set when the target was not of the opposite family.
	FallbackPair bool
}

// SnapshotView gives access to the current card snapshots by serial.
type SnapshotView interface {
	Cards(serial string) []models.CardSnapshot
}

// ValidPower reports whether a line-power reading can be used.
func ValidPower(value float64, ok bool) bool {
	return ok && value != 0 && value >= invalidPowerFloor
}

// Calculate computes the span loss between origin and target. Single-ended
// links always report zero. target is ignored for single-ended links.
func Calculate(link models.LinkDefinition, origin models.CardSnapshot, target *models.CardSnapshot) (Result, error) {
	res := Result{Origin: origin, Target: target}

	out, ok := origin.Metric(models.MetricOutLinePower)
	if !ValidPower(out, ok) {
		return res, ErrCalculationIncomplete
	}
	res.OutPower = out

	if link.IsSingle {
		res.Target = nil
		return res, nil
	}
	if target == nil {
		return res, ErrTargetNotFound
	}

	in, ok := target.Metric(models.MetricInLinePower)
	if !ValidPower(in, ok) {
		return res, ErrCalculationIncomplete
	}
	res.InPower = in
	res.SpanLoss = out - in
	res.CurrentLoss = math.Max(0, res.SpanLoss-link.RamanCalibration)
	return res, nil
}

// Calculator resolves link topology against a snapshot view and computes
// the loss.
type Calculator struct {
	Classifier Classifier
	// StrictPairing disables the first-amplifier fallback when no card of
	// the opposite family shares the destination serial.
	StrictPairing bool
}

// ResolveOrigin returns the first amplifier among the cards with the
// origin serial.
func (c Calculator) ResolveOrigin(cards []models.CardSnapshot) (models.CardSnapshot, CardRole, bool) {
	for _, card := range cards {
		if role := c.Classifier.Classify(card.CardModel); role.IsAmplifier() {
			return card, role, true
		}
	}
	return models.CardSnapshot{}, RoleUnknown, false
}

// ResolveTarget picks the remote card for an origin of the given role.
// The opposite family is preferred; otherwise the first amplifier is used
// unless pairing is strict.
func (c Calculator) ResolveTarget(originRole CardRole, candidates []models.CardSnapshot) (*models.CardSnapshot, bool) {
	want := originRole.Opposite()
	var first *models.CardSnapshot
	for i := range candidates {
		role := c.Classifier.Classify(candidates[i].CardModel)
		if role == want {
			return &candidates[i], false
		}
		if first == nil && role.IsAmplifier() {
			first = &candidates[i]
		}
	}
	if first == nil || c.StrictPairing {
		return nil, false
	}
	return first, true
}

// Evaluate resolves both ends of link in view and calculates its loss.
func (c Calculator) Evaluate(link models.LinkDefinition, view SnapshotView) (Result, error) {
	origin, role, ok := c.ResolveOrigin(view.Cards(link.OriginSerial))
	if !ok {
		return Result{}, ErrOriginNotAmplifier
	}

	if link.IsSingle {
		return Calculate(link, origin, nil)
	}

	target, fallback := c.ResolveTarget(role, view.Cards(link.DestSerial))
	if target == nil {
		return Result{Origin: origin}, ErrTargetNotFound
	}
	res, err := Calculate(link, origin, target)
	res.FallbackPair = fallback
	return res, err
}
