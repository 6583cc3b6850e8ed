package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	// Identical -> 1.0
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-6)

	// Orthogonal -> 0
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0}), 1e-6)

	// Opposite -> -1
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)

	// 45 degrees -> ~0.707
	assert.InDelta(t, 0.707, CosineSimilarity([]float32{1, 0}, []float32{1, 1}), 0.01)

	// Empty, mismatched, nil, zero vector -> 0
	assert.InDelta(t, 0.0, CosineSimilarity(nil, nil), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}), 1e-6)
}

func TestAlignDistribution(t *testing.T) {
	t.Run("rescales to target", func(t *testing.T) {
		out := AlignDistribution([]float64{1, 2, 3}, 0.5, 0.2)
		// Mean 2, std sqrt(2/3). Middle element maps exactly to the target mean.
		assert.InDelta(t, 0.5, out[1], 1e-9)
		assert.Less(t, out[0], out[1])
		assert.Greater(t, out[2], out[1])

		// Output mean equals target mean.
		mean := (out[0] + out[1] + out[2]) / 3
		assert.InDelta(t, 0.5, mean, 1e-9)
	})

	t.Run("zero deviation collapses to target mean", func(t *testing.T) {
		out := AlignDistribution([]float64{0.7, 0.7, 0.7}, 0.5, 0.2)
		for _, v := range out {
			assert.InDelta(t, 0.5, v, 1e-9)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, AlignDistribution(nil, 0.5, 0.2))
	})
}

func TestMinMaxNormalize(t *testing.T) {
	out := MinMaxNormalize([]float64{2, 4, 6})
	assert.InDelta(t, 0.0, out[0], 1e-9)
	assert.InDelta(t, 0.5, out[1], 1e-9)
	assert.InDelta(t, 1.0, out[2], 1e-9)

	// Degenerate: all equal -> 0.5 everywhere.
	out = MinMaxNormalize([]float64{3, 3, 3})
	for _, v := range out {
		assert.InDelta(t, 0.5, v, 1e-9)
	}

	assert.Nil(t, MinMaxNormalize(nil))
}

func TestCoverageWeights(t *testing.T) {
	tests := []struct {
		name           string
		countA, countB int
		wantA, wantB   float64
	}{
		{"both at full coverage", 10, 10, 0.7, 0.3},
		{"source B empty gives A full weight", 10, 0, 1.0, 0.0},
		{"source A empty gives B full weight", 0, 10, 0.0, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wa, wb := CoverageWeights(0.7, 0.3, tt.countA, tt.countB, 5)
			assert.InDelta(t, tt.wantA, wa, 1e-9)
			assert.InDelta(t, tt.wantB, wb, 1e-9)
		})
	}

	t.Run("under-threshold source shrinks proportionally", func(t *testing.T) {
		// countB=1 of threshold 4 -> raw weights 0.7 and 0.3*0.25=0.075,
		// renormalized: 0.7/0.775 and 0.075/0.775.
		wa, wb := CoverageWeights(0.7, 0.3, 8, 1, 4)
		assert.InDelta(t, 0.7/0.775, wa, 1e-9)
		assert.InDelta(t, 0.075/0.775, wb, 1e-9)
		assert.InDelta(t, 1.0, wa+wb, 1e-9)
	})

	t.Run("both empty", func(t *testing.T) {
		wa, wb := CoverageWeights(0.7, 0.3, 0, 0, 5)
		assert.Zero(t, wa)
		assert.Zero(t, wb)
	})
}

func TestReciprocalRankFusion(t *testing.T) {
	fused := ReciprocalRankFusion([][]string{
		{"a", "b", "c"},
		{"b", "a"},
	}, 60)

	// b: 1/62 + 1/61, a: 1/61 + 1/62 — tied; c: 1/63 only.
	assert.InDelta(t, fused["a"], fused["b"], 1e-12)
	assert.Less(t, fused["c"], fused["a"])

	assert.Empty(t, ReciprocalRankFusion(nil, 60))
}
