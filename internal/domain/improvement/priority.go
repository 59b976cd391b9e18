package improvement

import "sort"

// WeightTable maps hint types and origin event types to strategy weights.
// Keys missing from either map fall back to Default.
type WeightTable struct {
	ByHint   map[string]float64 `mapstructure:"by_hint" json:"byHint"`
	ByOrigin map[string]float64 `mapstructure:"by_origin" json:"byOrigin"`
	Default  float64            `mapstructure:"default" json:"default"`
}

// DefaultWeights is the baseline policy used when no table is configured.
func DefaultWeights() WeightTable {
	return WeightTable{
		ByHint: map[string]float64{
			"example":     1.2,
			"explanation": 1.0,
			"exercise":    1.5,
			"quiz":        1.3,
		},
		ByOrigin: map[string]float64{
			"lesson_viewed":    1.0,
			"lesson_completed": 1.2,
			"review_started":   0.8,
		},
		Default: 1.0,
	}
}

// HintWeight returns the weight for a hint type.
func (w WeightTable) HintWeight(hint string) float64 {
	if v, ok := w.ByHint[hint]; ok {
		return v
	}
	return w.Default
}

// OriginWeight returns the weight for an origin event type.
func (w WeightTable) OriginWeight(origin string) float64 {
	if v, ok := w.ByOrigin[origin]; ok {
		return v
	}
	return w.Default
}

// Breakdown exposes every factor of a priority score.
type Breakdown struct {
	ROIScore       float64 `json:"roiScore"`
	StrategyWeight float64 `json:"strategyWeight"`
	HintWeight     float64 `json:"hintWeight"`
	OriginWeight   float64 `json:"originWeight"`
}

// Priority is a score plus how it was derived.
type Priority struct {
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

// PriorityItem is a candidate improvement for one lesson.
type PriorityItem struct {
	LessonSlug   string   `json:"lessonSlug"`
	LessonTitle  string   `json:"lessonTitle"`
	OriginCount  int      `json:"originCount"`
	FollowUpRate int      `json:"followUpRate"`
	HintType     string   `json:"hintType"`
	Priority     Priority `json:"priority"`
	IsLowSample  bool     `json:"isLowSample"`
}

// Scorer computes priority scores from an injected weight table.
type Scorer struct {
	Weights WeightTable
}

// NewScorer creates a Scorer.
func NewScorer(weights WeightTable) *Scorer {
	return &Scorer{Weights: weights}
}

// Score computes roiScore = 100 - followUpRate, strategyWeight = hint * origin,
// and score = roiScore * strategyWeight rounded to 2 decimals.
func (s *Scorer) Score(stat LessonStat) PriorityItem {
	rate := FollowUpRate(stat.FollowedUpCount, stat.OriginCount)
	hint := s.Weights.HintWeight(stat.HintType)
	origin := s.Weights.OriginWeight(stat.Origin)
	roi := float64(100 - rate)
	strategy := round2(hint * origin)

	return PriorityItem{
		LessonSlug:   stat.Slug,
		LessonTitle:  stat.Title,
		OriginCount:  stat.OriginCount,
		FollowUpRate: rate,
		HintType:     stat.HintType,
		Priority: Priority{
			Score: round2(roi * strategy),
			Breakdown: Breakdown{
				ROIScore:       roi,
				StrategyWeight: strategy,
				HintWeight:     hint,
				OriginWeight:   origin,
			},
		},
		IsLowSample: IsLowSample(stat.OriginCount),
	}
}

// PriorityQueue scores every lesson and orders by score, highest first.
// Equal scores keep input order.
func (s *Scorer) PriorityQueue(stats []LessonStat) []PriorityItem {
	items := make([]PriorityItem, len(stats))
	for i, st := range stats {
		items[i] = s.Score(st)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority.Score > items[j].Priority.Score
	})
	return items
}

// Actionable drops low-sample items. Only actionable items may open issues.
func Actionable(items []PriorityItem) []PriorityItem {
	out := make([]PriorityItem, 0, len(items))
	for _, it := range items {
		if !it.IsLowSample {
			out = append(out, it)
		}
	}
	return out
}
