package ingest

import (
	"time"

	"github.com/linkeye/internal/models"
)

// Snapshot is an immutable view of every card reported in one cycle.
type Snapshot struct {
	cards       []models.CardSnapshot
	bySerial    map[string][]int
	collectedAt time.Time
}

// NewSnapshot indexes cards by serial. cards must not be modified afterwards.
func NewSnapshot(cards []models.CardSnapshot, collectedAt time.Time) *Snapshot {
	s := &Snapshot{
		cards:       cards,
		bySerial:    make(map[string][]int, len(cards)),
		collectedAt: collectedAt,
	}
	for i, c := range cards {
		s.bySerial[c.Serial] = append(s.bySerial[c.Serial], i)
	}
	return s
}

// Cards returns copies of the cards reported under serial.
func (s *Snapshot) Cards(serial string) []models.CardSnapshot {
	idx := s.bySerial[serial]
	if len(idx) == 0 {
		return nil
	}
	out := make([]models.CardSnapshot, 0, len(idx))
	for _, i := range idx {
		out = append(out, cloneCard(s.cards[i]))
	}
	return out
}

func (s *Snapshot) All() []models.CardSnapshot {
	out := make([]models.CardSnapshot, len(s.cards))
	for i, c := range s.cards {
		out[i] = cloneCard(c)
	}
	return out
}

func (s *Snapshot) Len() int { return len(s.cards) }

func (s *Snapshot) CollectedAt() time.Time { return s.collectedAt }

func cloneCard(c models.CardSnapshot) models.CardSnapshot {
	metrics := make(map[string]float64, len(c.Metrics))
	for k, v := range c.Metrics {
		metrics[k] = v
	}
	c.Metrics = metrics
	return c
}
