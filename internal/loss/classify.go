package loss

import "strings"

// CardRole is the part a card can play in a monitored link.
//
// Amplifiers come in two mutually exclusive families told apart by the
// model-name prefix. A link is directional: its origin sits in one family
// and the remote end is expected in the other one. Fans are kept for
// telemetry only and never take part in a loss calculation.
type CardRole int

const (
	RoleUnknown CardRole = iota
	RoleOriginAmp
	RoleTargetAmp
	RoleFan
)

func (r CardRole) String() string {
	switch r {
	case RoleOriginAmp:
		return "origin_amp"
	case RoleTargetAmp:
		return "target_amp"
	case RoleFan:
		return "fan"
	default:
		return "unknown"
	}
}

func (r CardRole) IsAmplifier() bool {
	return r == RoleOriginAmp || r == RoleTargetAmp
}

// Opposite returns the other amplifier family, or RoleUnknown for anything
// that is not an amplifier.
func (r CardRole) Opposite() CardRole {
	switch r {
	case RoleOriginAmp:
		return RoleTargetAmp
	case RoleTargetAmp:
		return RoleOriginAmp
	default:
		return RoleUnknown
	}
}

// Classifier maps card model names to roles by case-insensitive prefix.
type Classifier struct {
	OriginPrefix string
	TargetPrefix string
	FanPrefix    string
}

func (c Classifier) Classify(model string) CardRole {
	m := strings.ToUpper(strings.TrimSpace(model))
	switch {
	case hasPrefix(m, c.OriginPrefix):
		return RoleOriginAmp
	case hasPrefix(m, c.TargetPrefix):
		return RoleTargetAmp
	case hasPrefix(m, c.FanPrefix):
		return RoleFan
	default:
		return RoleUnknown
	}
}

// Relevant reports whether a card belongs to a whitelisted family.
func (c Classifier) Relevant(model string) bool {
	return c.Classify(model) != RoleUnknown
}

func hasPrefix(model, prefix string) bool {
	return prefix != "" && strings.HasPrefix(model, strings.ToUpper(prefix))
}
