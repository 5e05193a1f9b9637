package mergepolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/model"
)

func splitsOfSize(n int, numDocs uint64) []model.SplitMetadata {
	out := make([]model.SplitMetadata, n)
	for i := range out {
		out[i] = model.SplitMetadata{
			SplitID: string(rune('a' + i)),
			NumDocs: numDocs,
		}
	}
	return out
}

func TestStableMultitenant_ExactlyMergeFactorSplits(t *testing.T) {
	cfg := DefaultConfig()
	splits := splitsOfSize(cfg.MergeFactor, 1000)

	p := New(cfg)
	ops := p.Operations(&splits)

	require.Len(t, ops, 1)
	assert.Len(t, ops[0].Splits, cfg.MergeFactor)
	assert.Empty(t, splits)
}

func TestStableMultitenant_OneFewerThanMergeFactor_NoOp(t *testing.T) {
	cfg := DefaultConfig()
	splits := splitsOfSize(cfg.MergeFactor-1, 1000)

	p := New(cfg)
	ops := p.Operations(&splits)

	assert.Empty(t, ops)
	assert.Len(t, splits, cfg.MergeFactor-1)
}

func TestStableMultitenant_ThirteenSplits_OneOpOfTwelve(t *testing.T) {
	cfg := DefaultConfig()
	splits := splitsOfSize(13, 1000)

	p := New(cfg)
	ops := p.Operations(&splits)

	require.Len(t, ops, 1)
	assert.Len(t, ops[0].Splits, cfg.MaxMergeFactor)
	assert.Len(t, splits, 1)
}

func TestStableMultitenant_MatureSplitsExcluded(t *testing.T) {
	cfg := DefaultConfig()
	mature := model.SplitMetadata{SplitID: "mature", NumDocs: cfg.SplitNumDocsTarget}
	working := splitsOfSize(cfg.MergeFactor, 1000)
	splits := append([]model.SplitMetadata{mature}, working...)

	p := New(cfg)
	ops := p.Operations(&splits)

	require.Len(t, ops, 1)
	assert.Len(t, ops[0].Splits, cfg.MergeFactor)
	require.Len(t, splits, 1)
	assert.Equal(t, "mature", splits[0].SplitID)
}

func TestStableMultitenant_CardinalityPreserved(t *testing.T) {
	cfg := DefaultConfig()
	splits := append(splitsOfSize(23, 1000), splitsOfSize(5, 50_000)...)
	original := len(splits)

	p := New(cfg)
	ops := p.Operations(&splits)

	mergedCount := 0
	for _, op := range ops {
		mergedCount += len(op.Splits)
	}
	assert.Equal(t, original, mergedCount+len(splits))
}

func TestStableMultitenant_IsMature(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg)

	assert.False(t, p.IsMature(model.SplitMetadata{NumDocs: cfg.SplitNumDocsTarget - 1}))
	assert.True(t, p.IsMature(model.SplitMetadata{NumDocs: cfg.SplitNumDocsTarget}))

	disabled := New(Config{MergeEnabled: false, MergeFactor: 10, MaxMergeFactor: 12, SplitNumDocsTarget: 10_000_000, MinLevelNumDocs: 100_000})
	assert.True(t, disabled.IsMature(model.SplitMetadata{NumDocs: 1}))
}

func TestMaxNumSplitsWorstCase(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 9, MaxNumSplitsWorstCase(cfg, 99))
	assert.Equal(t, 27, MaxNumSplitsWorstCase(cfg, 1_000_000))
	assert.Equal(t, 36, MaxNumSplitsWorstCase(cfg, 2_000_000))
	assert.Equal(t, 36, MaxNumSplitsWorstCase(cfg, 3_000_000))
	assert.Equal(t, 36, MaxNumSplitsWorstCase(cfg, 4_000_000))
	assert.Equal(t, 45, MaxNumSplitsWorstCase(cfg, 5_000_000))
	assert.Equal(t, 45, MaxNumSplitsWorstCase(cfg, 7_000_000))
	assert.Equal(t, 45, MaxNumSplitsWorstCase(cfg, 10_000_000))
	assert.Equal(t, 54, MaxNumSplitsWorstCase(cfg, 20_000_000))
	assert.Equal(t, 63, MaxNumSplitsWorstCase(cfg, 100_000_000))
	assert.Equal(t, 153, MaxNumSplitsWorstCase(cfg, 1_000_000_000))
}

func TestMaxNumSplitsIdealCase(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 9, MaxNumSplitsIdealCase(cfg, 99))
	assert.Equal(t, 18, MaxNumSplitsIdealCase(cfg, 1_000_000))
	assert.Equal(t, 20, MaxNumSplitsIdealCase(cfg, 2_000_000))
	assert.Equal(t, 21, MaxNumSplitsIdealCase(cfg, 3_000_000))
	assert.Equal(t, 22, MaxNumSplitsIdealCase(cfg, 4_000_000))
	assert.Equal(t, 23, MaxNumSplitsIdealCase(cfg, 5_000_000))
	assert.Equal(t, 25, MaxNumSplitsIdealCase(cfg, 7_000_000))
	assert.Equal(t, 27, MaxNumSplitsIdealCase(cfg, 10_000_000))
	assert.Equal(t, 37, MaxNumSplitsIdealCase(cfg, 100_000_000))
	assert.Equal(t, 127, MaxNumSplitsIdealCase(cfg, 1_000_000_000))
}
