package utils

import (
	"math"
	"sort"
	"time"
)

type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
	WindowAll   Window = "all"
)

type RankConfig struct {
	Span     time.Duration // 0 means unbounded
	HalfLife time.Duration // vote weight halves every HalfLife
}

var RankConfigs = map[Window]RankConfig{
	WindowDay:   {Span: 24 * time.Hour, HalfLife: 6 * time.Hour},
	WindowWeek:  {Span: 7 * 24 * time.Hour, HalfLife: 2 * 24 * time.Hour},
	WindowMonth: {Span: 30 * 24 * time.Hour, HalfLife: 7 * 24 * time.Hour},
	WindowYear:  {Span: 365 * 24 * time.Hour, HalfLife: 60 * 24 * time.Hour},
	WindowAll:   {Span: 0, HalfLife: 30 * 24 * time.Hour},
}

func ParseWindow(s string) (Window, bool) {
	w := Window(s)
	_, ok := RankConfigs[w]
	return w, ok
}

// Since returns the start of the window ending at now, zero for WindowAll.
func (w Window) Since(now time.Time) time.Time {
	cfg := RankConfigs[w]
	if cfg.Span == 0 {
		return time.Time{}
	}
	return now.Add(-cfg.Span)
}

// TrendingScore scores the votes of one product for a window. The integer
// part is the number of in-window votes; the fractional part lies in
// [0.25, 0.75] and grows with how recent those votes are. A product with
// more in-window votes therefore always scores higher, and recency only
// separates products with equal counts.
func TrendingScore(now time.Time, w Window, castTimes []time.Time) float64 {
	cfg, ok := RankConfigs[w]
	if !ok {
		return 0
	}
	since := w.Since(now)

	n := 0
	decay := 0.0
	for _, t := range castTimes {
		if !since.IsZero() && t.Before(since) {
			continue
		}
		age := now.Sub(t)
		if age < 0 {
			age = 0
		}
		decay += math.Exp(-math.Ln2 * age.Hours() / cfg.HalfLife.Hours())
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(n) + 0.25 + 0.5*(decay/float64(n))
}

type RankItem struct {
	ID        string
	CreatedAt time.Time
	Score     float64
}

// SortRanked orders by score, then newer product first, then id.
func SortRanked(items []RankItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
