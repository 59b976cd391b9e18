package improvement

import (
	"math"
	"sort"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
)

// LowSampleThreshold is the origin count below which a lesson's rate is not trusted.
const LowSampleThreshold = 5

// FollowUpRate returns round(followed/origin*100), or 0 when origin is 0.
func FollowUpRate(followed, origin int) int {
	if origin <= 0 {
		return 0
	}
	return int(math.Round(float64(followed) / float64(origin) * 100))
}

// IsLowSample reports whether an origin count is too small to act on.
func IsLowSample(origin int) bool {
	return origin < LowSampleThreshold
}

// LessonRankingRow is one row of the best/worst lesson rankings.
type LessonRankingRow struct {
	Slug           string         `json:"slug"`
	Title          string         `json:"title"`
	OriginCount    int            `json:"originCount"`
	FollowUpRate   int            `json:"followUpRate"`
	FollowUpCounts map[string]int `json:"followUpCounts"`
	IsLowSample    bool           `json:"isLowSample"`
}

// LessonStat is the per-lesson input to ranking and scoring.
type LessonStat struct {
	Slug            string
	Title           string
	HintType        string
	Origin          string
	OriginCount     int
	FollowedUpCount int
	FollowUpCounts  map[string]int
}

// Lesson is catalog metadata joined onto the derived statistics.
type Lesson struct {
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	HintType string `json:"hintType"`
}

// StatsFromFollowUps joins follow-up counts with lesson metadata. Lessons
// missing from the catalog use their slug as title and no hint type.
func StatsFromFollowUps(followUps []analytics.LessonFollowUp, catalog map[string]Lesson) []LessonStat {
	out := make([]LessonStat, 0, len(followUps))
	for _, f := range followUps {
		lesson, ok := catalog[f.Slug]
		if !ok {
			lesson = Lesson{Slug: f.Slug, Title: f.Slug}
		}
		out = append(out, LessonStat{
			Slug:            f.Slug,
			Title:           lesson.Title,
			HintType:        lesson.HintType,
			Origin:          f.DominantOrigin(),
			OriginCount:     f.OriginCount,
			FollowedUpCount: f.FollowedUpCount,
			FollowUpCounts:  f.FollowUpCounts,
		})
	}
	return out
}

// Row converts a stat into a ranking row.
func (s LessonStat) Row() LessonRankingRow {
	return LessonRankingRow{
		Slug:           s.Slug,
		Title:          s.Title,
		OriginCount:    s.OriginCount,
		FollowUpRate:   FollowUpRate(s.FollowedUpCount, s.OriginCount),
		FollowUpCounts: s.FollowUpCounts,
		IsLowSample:    IsLowSample(s.OriginCount),
	}
}

func rows(stats []LessonStat) []LessonRankingRow {
	out := make([]LessonRankingRow, len(stats))
	for i, s := range stats {
		out[i] = s.Row()
	}
	return out
}

// RankBest orders lessons by follow-up rate, highest first. Low-sample rows
// stay in the ranking, flagged.
func RankBest(stats []LessonStat) []LessonRankingRow {
	out := rows(stats)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FollowUpRate > out[j].FollowUpRate
	})
	return out
}

// RankWorst orders lessons by follow-up rate, lowest first.
func RankWorst(stats []LessonStat) []LessonRankingRow {
	out := rows(stats)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FollowUpRate < out[j].FollowUpRate
	})
	return out
}

// Effectiveness is the measured change in follow-up rate after an improvement.
type Effectiveness struct {
	Delta float64 `json:"effectivenessDelta"`
	ROI   float64 `json:"roi"`
}

// MeasureEffectiveness compares a lesson's follow-up rate before and after an
// improvement shipped. Delta is in percentage points. Cost is expressed in
// the same points, so ROI is the net gain per unit of cost, (delta-cost)/cost,
// and equals delta when cost is zero.
func MeasureEffectiveness(baselineRate, currentRate int, cost float64) (Effectiveness, error) {
	if cost < 0 {
		return Effectiveness{}, shared.ErrNegativeCost
	}
	delta := float64(currentRate - baselineRate)
	roi := delta
	if cost > 0 {
		roi = round2((delta - cost) / cost)
	}
	return Effectiveness{Delta: delta, ROI: roi}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
