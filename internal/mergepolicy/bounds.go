package mergepolicy

// MaxNumSplitsIdealCase and MaxNumSplitsWorstCase answer the dashboard's
// question: "if this index accumulates totalNumDocs documents, how many
// splits can the stable multitenant policy leave unmerged at any point in
// time?" (spec §4.2, "Maximum-splits analysis"). Both describe a synthetic
// stack of levels whose thresholds grow geometrically from
// min_level_num_docs up to split_num_docs_target, then recursively bound the
// split count level by level: the splits that saturate a level before its
// threshold triggers a merge are charged once, and the doc budget that
// remains carries over to the next, larger level.
//
// The two cases differ in how fast the synthetic levels grow:
//
//   - the ideal case grows each level by merge_factor, matching how
//     buildLevels advances when every merge in a level runs to completion;
//   - the worst case grows each level by 3, buildLevels' minimum per-level
//     growth (spec §4.2 step 3), which stacks more, thinner levels for the
//     same totalNumDocs and so bounds the split count from above.
func MaxNumSplitsIdealCase(cfg Config, totalNumDocs uint64) int {
	levels := levelThresholds(cfg, uint64(cfg.MergeFactor))
	return maxNumSplitsGivenLevels(cfg, totalNumDocs, levels, true)
}

func MaxNumSplitsWorstCase(cfg Config, totalNumDocs uint64) int {
	levels := levelThresholds(cfg, 3)
	return maxNumSplitsGivenLevels(cfg, totalNumDocs, levels, false)
}

// levelThresholds lists the doc count at which each synthetic level starts,
// from a single document up through split_num_docs_target, growing by
// growthFactor per level.
func levelThresholds(cfg Config, growthFactor uint64) []uint64 {
	levels := []uint64{1}
	levelEndDoc := cfg.MinLevelNumDocs
	for levelEndDoc < cfg.SplitNumDocsTarget {
		levels = append(levels, levelEndDoc)
		levelEndDoc *= growthFactor
	}
	levels = append(levels, cfg.SplitNumDocsTarget)
	return levels
}

// maxNumSplitsGivenLevels recursively bounds the number of splits that
// totalNumDocs documents can be spread across, one synthetic level at a
// time. sorted distinguishes the ideal case (splits within a level are
// evenly sized, so a level saturates only once it holds merge_factor-1
// splits of exactly its threshold size) from the worst case (a level's
// merge_factor-1 splits can be one split of its threshold size plus
// merge_factor-2 single-document splits, so the level is charged
// merge_factor-1 splits for only threshold + merge_factor-2 documents).
func maxNumSplitsGivenLevels(cfg Config, totalNumDocs uint64, levels []uint64, sorted bool) int {
	if totalNumDocs == 0 {
		return 0
	}
	head, tail := levels[0], levels[1:]
	if totalNumDocs < head {
		return 0
	}

	var firstLevelMinSaturationDocs uint64
	if sorted {
		firstLevelMinSaturationDocs = head * uint64(cfg.MergeFactor-1)
	} else {
		firstLevelMinSaturationDocs = head + uint64(cfg.MergeFactor-2)
	}

	if len(tail) == 0 || totalNumDocs <= firstLevelMinSaturationDocs {
		return int((totalNumDocs + head - 1) / head)
	}

	totalNumDocs -= firstLevelMinSaturationDocs
	return (cfg.MergeFactor - 1) + maxNumSplitsGivenLevels(cfg, totalNumDocs, tail, sorted)
}
