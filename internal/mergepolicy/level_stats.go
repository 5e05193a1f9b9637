package mergepolicy

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/sudarshan/indexcore/internal/model"
)

// LevelStat summarizes one logarithmic tier of the working set, for the
// operator dashboard (spec §4.2: "operator dashboards" note on merge-policy
// bounds). It is never consumed by Operations itself — the tiering there
// only needs the split boundaries, not their statistical shape.
type LevelStat struct {
	Level         int
	NumSplits     int
	TotalNumDocs  uint64
	MedianNumDocs float64
	P90NumDocs    float64
}

// LevelStats recomputes the same recency/size sort and greedy tiering
// Operations uses, then reports median and 90th-percentile split size per
// tier, so an operator can see whether a tier is trending toward its
// merge-factor cap or sitting underpopulated. Mature splits (already at or
// past SplitNumDocsTarget) are excluded, same as Operations excludes them
// from tiering.
func (p *StableMultitenant) LevelStats(splits []model.SplitMetadata) ([]LevelStat, error) {
	var working []model.SplitMetadata
	for _, s := range splits {
		if !p.IsMature(s) {
			working = append(working, s)
		}
	}
	if len(working) == 0 {
		return nil, nil
	}

	sortByRecencyThenSize(working)
	levels := buildLevels(working, p.Cfg.MinLevelNumDocs)

	out := make([]LevelStat, 0, len(levels))
	for i, lv := range levels {
		docs := make(stats.Float64Data, len(lv.splits))
		var total uint64
		for j, s := range lv.splits {
			docs[j] = float64(s.NumDocs)
			total += s.NumDocs
		}
		median, err := docs.Median()
		if err != nil {
			return nil, fmt.Errorf("mergepolicy: level %d median: %w", i, err)
		}
		p90, err := docs.Percentile(90)
		if err != nil {
			return nil, fmt.Errorf("mergepolicy: level %d p90: %w", i, err)
		}
		out = append(out, LevelStat{
			Level:         i,
			NumSplits:     len(lv.splits),
			TotalNumDocs:  total,
			MedianNumDocs: median,
			P90NumDocs:    p90,
		})
	}
	return out, nil
}

// MaxSplitNumDocs is the dashboard-facing bound Operations tiers against:
// a split at or beyond this size is mature and never selected for merging.
func (p *StableMultitenant) MaxSplitNumDocs() uint64 {
	return p.Cfg.SplitNumDocsTarget
}
