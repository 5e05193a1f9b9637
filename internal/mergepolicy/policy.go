// Package mergepolicy implements the stable multitenant, logarithmic-tiering
// merge policy: a pure function from the set of published splits to a merge
// plan (spec §4.2).
package mergepolicy

import (
	"sort"

	"github.com/sudarshan/indexcore/internal/model"
)

// Config holds the policy's tuning knobs (spec §4.2 defaults).
type Config struct {
	MinLevelNumDocs    uint64
	MergeFactor        int
	MaxMergeFactor     int
	SplitNumDocsTarget uint64
	MergeEnabled       bool
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MinLevelNumDocs:    100_000,
		MergeFactor:        10,
		MaxMergeFactor:     12,
		SplitNumDocsTarget: 10_000_000,
		MergeEnabled:       true,
	}
}

// MergeOperation groups the splits selected for one compaction.
type MergeOperation struct {
	Splits []model.SplitMetadata
}

// Policy is the capability set the core consumes from a merge policy
// implementation (spec §9: "Polymorphism").
type Policy interface {
	Operations(splits *[]model.SplitMetadata) []MergeOperation
	IsMature(s model.SplitMetadata) bool
}

// StableMultitenant is the merge policy described in spec §4.2.
type StableMultitenant struct {
	Cfg Config
}

func New(cfg Config) *StableMultitenant {
	return &StableMultitenant{Cfg: cfg}
}

// IsMature reports whether merging is disabled, or the split has already
// reached the target split size.
func (p *StableMultitenant) IsMature(s model.SplitMetadata) bool {
	return !p.Cfg.MergeEnabled || s.NumDocs >= p.Cfg.SplitNumDocsTarget
}

// Operations partitions splits into (mature splits left untouched) and
// (splits selected into merge operations), replacing *splits with whatever
// remains unmerged (mature splits plus any splits not selected for a merge).
// The post-condition sum(op.Splits) + len(*splits) == original length always
// holds (spec §8).
func (p *StableMultitenant) Operations(splits *[]model.SplitMetadata) []MergeOperation {
	all := *splits
	if !p.Cfg.MergeEnabled || len(all) < 2 {
		return nil
	}

	var mature, working []model.SplitMetadata
	for _, s := range all {
		if p.IsMature(s) {
			mature = append(mature, s)
		} else {
			working = append(working, s)
		}
	}

	sortByRecencyThenSize(working)

	levels := buildLevels(working, p.Cfg.MinLevelNumDocs)

	var ops []MergeOperation
	var leftover []model.SplitMetadata

	// Select candidates from the highest level downward.
	for i := len(levels) - 1; i >= 0; i-- {
		levelOps, remaining := p.selectFromLevel(levels[i])
		ops = append(ops, levelOps...)
		leftover = append(leftover, remaining...)
	}

	remaining := append(leftover, mature...)
	*splits = remaining
	return ops
}

// sortByRecencyThenSize orders splits (time_range.end descending, num_docs
// ascending) in place: most recent splits first, ties broken deterministically
// by size. Shared by Operations and LevelStats so both tier the working set
// identically.
func sortByRecencyThenSize(splits []model.SplitMetadata) {
	sort.SliceStable(splits, func(i, j int) bool {
		ei, ej := splits[i].TimeRange.End, splits[j].TimeRange.End
		if ei != ej {
			return ei > ej
		}
		return splits[i].NumDocs < splits[j].NumDocs
	})
}

// level is a contiguous run of the sorted working set whose doc counts fall
// within one logarithmic tier.
type level struct {
	splits []model.SplitMetadata
}

// buildLevels greedily partitions the sorted working set into tiers. Each
// tier's cap grows by at least 3x over the previous, per spec §4.2 step 3.
func buildLevels(sorted []model.SplitMetadata, minLevelNumDocs uint64) []level {
	if len(sorted) == 0 {
		return nil
	}

	var levels []level
	currentLevelMaxDocs := max3(sorted[0].NumDocs, minLevelNumDocs)
	cur := level{}

	for _, s := range sorted {
		if s.NumDocs >= currentLevelMaxDocs && len(cur.splits) > 0 {
			levels = append(levels, cur)
			cur = level{}
			currentLevelMaxDocs = 3 * s.NumDocs
			if currentLevelMaxDocs < minLevelNumDocs {
				currentLevelMaxDocs = minLevelNumDocs
			}
		}
		cur.splits = append(cur.splits, s)
	}
	levels = append(levels, cur)
	return levels
}

func max3(numDocs, minLevelNumDocs uint64) uint64 {
	m := 3 * numDocs
	if m < minLevelNumDocs {
		return minLevelNumDocs
	}
	return m
}

// candidateState classifies a fully-grown merge-candidate window, once it
// has stopped growing (spec §4.2 step 4).
type candidateState int

const (
	tooSmall candidateState = iota
	validCandidate
)

// selectFromLevel grows a window from the right end (the least recent
// splits after the recency sort; among equal end times, the largest)
// leftward, adding one split at a
// time while the candidate remains admissible, per spec §4.2 step 4. At
// most one merge operation is drawn from a level per call: the policy
// function runs repeatedly as the pipeline operates, so a level with room
// for several merges yields them one at a time, across calls, rather than
// all at once.
func (p *StableMultitenant) selectFromLevel(lv level) ([]MergeOperation, []model.SplitMetadata) {
	remaining := append([]model.SplitMetadata(nil), lv.splits...)

	start := len(remaining)
	var docSum uint64

	// Grow the window one split at a time. A window already at
	// max_merge_factor splits, or whose doc sum has reached the split
	// size target, cannot accept another split: that's
	// OneMoreSplitWouldBeTooBig, so growth stops there.
	for start > 0 {
		windowLen := len(remaining) - start
		if windowLen >= p.Cfg.MaxMergeFactor {
			break
		}
		if docSum >= p.Cfg.SplitNumDocsTarget {
			break
		}
		start--
		docSum += remaining[start].NumDocs
	}

	window := remaining[start:]
	if p.classify(len(window), docSum) == tooSmall {
		return nil, remaining
	}

	op := MergeOperation{Splits: append([]model.SplitMetadata(nil), window...)}
	return []MergeOperation{op}, remaining[:start]
}

// classify implements the TooSmall / ValidSplit distinction from spec §4.2
// step 4: a window is TooSmall when it has fewer than 2 splits, or fewer
// than merge_factor splits while its doc sum is still below the split size
// target.
func (p *StableMultitenant) classify(windowLen int, docSum uint64) candidateState {
	if windowLen < 2 {
		return tooSmall
	}
	if windowLen < p.Cfg.MergeFactor && docSum < p.Cfg.SplitNumDocsTarget {
		return tooSmall
	}
	return validCandidate
}
