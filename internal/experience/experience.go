// Package experience implements the fixed-capacity, priority-ranked memory
// of past transitions with regime/profitability indexing and similarity
// retrieval.
package experience

import (
	"math"
	"time"

	"evotrader/internal/models"
)

// Experience is an immutable record of one stored transition. Identity is
// the ID; Priority is computed once at insertion and never changes.
type Experience struct {
	ID            string        `json:"experience_id"`
	EpisodeID     string        `json:"episode_id"`
	Timestamp     time.Time     `json:"timestamp"`
	MarketState   []float64     `json:"market_state"`
	MarketRegime  string        `json:"market_regime"`
	Action        models.Action `json:"action"`
	Confidence    float64       `json:"confidence"`
	Reward        float64       `json:"reward"`
	NextState     []float64     `json:"next_state"`
	PnL           float64       `json:"pnl"`
	HoldingTime   int           `json:"holding_time"`
	WasProfitable bool          `json:"was_profitable"`
	LessonTags    []string      `json:"lesson_tags"`
	Priority      float64       `json:"priority"`
}

// Transition carries the fields of a transition being added to the store.
type Transition struct {
	Timestamp       time.Time
	Observation     []float64
	Action          models.Action
	Reward          float64
	NextObservation []float64
	PnL             float64
	HoldingTime     int
	MarketRegime    string
	Confidence      float64
	EpisodeID       string
	LessonTags      []string
}

// computePriority scores how worth keeping a transition is. Extreme wins
// and losses, large rewards and quick trades rank high; profitable trades
// get a flat bump.
func computePriority(reward, pnl float64, holdingTime int) float64 {
	pnlFactor := math.Tanh(math.Abs(pnl)*10) * 0.4
	rewardFactor := math.Tanh(math.Abs(reward)*5) * 0.3
	speedFactor := 0.3 / (1.0 + float64(holdingTime)*0.1)
	profitBonus := 0.0
	if pnl > 0 {
		profitBonus = 0.2
	}
	return pnlFactor + rewardFactor + speedFactor + profitBonus
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
