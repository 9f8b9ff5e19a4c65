package calibrate

import (
	"math/rand"
	"testing"

	"github.com/masterypath/backend/internal/models"
)

func newTestCalibrator(seed int64) *Calibrator {
	return New(rand.New(rand.NewSource(seed)))
}

func TestCalculateInitialBuckets(t *testing.T) {
	tests := []struct {
		name         string
		scores       []float64
		wantBaseline int
	}{
		{"no history", nil, 50},
		{"weak", []float64{0.40, 0.50, 0.55}, 20},
		{"middling", []float64{0.65, 0.70, 0.75}, 50},
		{"strong", []float64{0.85, 0.90, 0.95}, 75},
		{"boundary low", []float64{0.60}, 50},
		{"boundary high", []float64{0.80}, 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestCalibrator(1).CalculateInitial(tt.scores, 0)
			if p.Baseline != tt.wantBaseline {
				t.Errorf("baseline = %d, want %d", p.Baseline, tt.wantBaseline)
			}
			if p.Difficulty < 0 || p.Difficulty > 100 {
				t.Errorf("difficulty %d out of [0,100]", p.Difficulty)
			}
			if p.Rationale == "" {
				t.Error("rationale must never be empty")
			}
		})
	}
}

func TestCalculateInitialCalibrationPenalty(t *testing.T) {
	// Same seed, so jitter is identical; only the penalty differs.
	wellCalibrated := newTestCalibrator(7).CalculateInitial([]float64{0.70}, 10)
	poorlyCalibrated := newTestCalibrator(7).CalculateInitial([]float64{0.70}, 25)

	if poorlyCalibrated.CalibrationPenalty != 10 {
		t.Errorf("penalty = %d, want 10", poorlyCalibrated.CalibrationPenalty)
	}
	if wellCalibrated.CalibrationPenalty != 0 {
		t.Errorf("penalty = %d, want 0", wellCalibrated.CalibrationPenalty)
	}
	if got := wellCalibrated.Difficulty - poorlyCalibrated.Difficulty; got != 10 {
		t.Errorf("penalty shifted difficulty by %d, want 10", got)
	}
}

func TestCalculateInitialUsesLastTenScores(t *testing.T) {
	// Ten strong recent scores after a long weak run: only the strong ones count.
	scores := make([]float64, 0, 25)
	for i := 0; i < 15; i++ {
		scores = append(scores, 0.20)
	}
	for i := 0; i < 10; i++ {
		scores = append(scores, 0.95)
	}

	p := newTestCalibrator(1).CalculateInitial(scores, 0)
	if p.Baseline != 75 {
		t.Errorf("baseline = %d, want 75 (older scores must not count)", p.Baseline)
	}
}

func TestCalculateInitialDeterministic(t *testing.T) {
	a := newTestCalibrator(42).CalculateInitial([]float64{0.70}, 0)
	b := newTestCalibrator(42).CalculateInitial([]float64{0.70}, 0)
	if a.Difficulty != b.Difficulty || a.Jitter != b.Jitter {
		t.Errorf("same seed produced different placements: %+v vs %+v", a, b)
	}
}

func TestAdjustStepRules(t *testing.T) {
	c := newTestCalibrator(1)

	// Property over the full difficulty range.
	for d := 0; d <= 100; d++ {
		up := c.Adjust(d, 0.90, 0)
		wantUp := min(100, d+15)
		if up.New != wantUp {
			t.Errorf("Adjust(%d, 0.90) = %d, want %d", d, up.New, wantUp)
		}

		down := c.Adjust(d, 0.55, 0)
		wantDown := max(0, d-15)
		if down.New != wantDown {
			t.Errorf("Adjust(%d, 0.55) = %d, want %d", d, down.New, wantDown)
		}
	}
}

func TestAdjustComfortBandJitter(t *testing.T) {
	c := newTestCalibrator(3)
	for i := 0; i < 50; i++ {
		adj := c.Adjust(50, 0.75, 0)
		if adj.New < 45 || adj.New > 55 {
			t.Fatalf("comfort-band adjustment moved 50 to %d, want within [45,55]", adj.New)
		}
	}
}

func TestAdjustCap(t *testing.T) {
	c := newTestCalibrator(1)

	adj := c.Adjust(50, 0.95, MaxAdjustments)
	if adj.New != 50 || adj.Delta != 0 {
		t.Errorf("capped adjust moved difficulty: %+v", adj)
	}
	if adj.Reason != "adjustment cap reached" {
		t.Errorf("reason = %q, want %q", adj.Reason, "adjustment cap reached")
	}

	// One below the cap still adjusts.
	adj = c.Adjust(50, 0.95, MaxAdjustments-1)
	if adj.New != 65 {
		t.Errorf("Adjust below cap = %d, want 65", adj.New)
	}
}

func TestTierForDifficulty(t *testing.T) {
	tests := []struct {
		difficulty int
		want       models.ComplexityTier
	}{
		{0, models.TierBasic},
		{33, models.TierBasic},
		{34, models.TierIntermediate},
		{66, models.TierIntermediate},
		{67, models.TierAdvanced},
		{100, models.TierAdvanced},
	}

	for _, tt := range tests {
		if got := TierForDifficulty(tt.difficulty); got != tt.want {
			t.Errorf("TierForDifficulty(%d) = %s, want %s", tt.difficulty, got, tt.want)
		}
	}
}
