package irt

import (
	"testing"

	"github.com/masterypath/backend/internal/models"
)

func obs(correct bool, difficulty int) Observation {
	return Observation{Correct: correct, Difficulty: difficulty}
}

func TestEstimateAllCorrect(t *testing.T) {
	est := Estimate([]Observation{
		obs(true, 50), obs(true, 50), obs(true, 50), obs(true, 50),
	})

	if est.Theta <= 0 {
		t.Errorf("theta = %f, want > 0 for an all-correct set", est.Theta)
	}
	if est.Theta < -4 || est.Theta > 4 {
		t.Errorf("theta = %f, want within [-4,4]", est.Theta)
	}
	if est.Iterations > 10 {
		t.Errorf("iterations = %d, want <= 10", est.Iterations)
	}
	if est.Converged {
		t.Error("degenerate all-correct set must not report convergence")
	}
	if est.Reason == "" {
		t.Error("estimate must carry a reason")
	}
}

func TestEstimateAllIncorrect(t *testing.T) {
	est := Estimate([]Observation{
		obs(false, 50), obs(false, 50), obs(false, 50),
	})

	if est.Theta >= 0 {
		t.Errorf("theta = %f, want < 0 for an all-incorrect set", est.Theta)
	}
	if est.Theta < -4 {
		t.Errorf("theta = %f, want clamped at -4", est.Theta)
	}
	if est.StandardError < 1 {
		t.Errorf("standard error = %f, want wide for a degenerate set", est.StandardError)
	}
}

func TestEstimateMixedConverges(t *testing.T) {
	// Half correct at difficulty 50 → theta near 0.
	est := Estimate([]Observation{
		obs(true, 50), obs(false, 50), obs(true, 50), obs(false, 50),
		obs(true, 50), obs(false, 50),
	})

	if !est.Converged {
		t.Errorf("mixed set did not converge: %s", est.Reason)
	}
	if est.Theta < -0.5 || est.Theta > 0.5 {
		t.Errorf("theta = %f, want near 0 for a 50%% pass rate at difficulty 50", est.Theta)
	}
	if est.ConfidenceLow >= est.ConfidenceHigh {
		t.Errorf("interval [%f, %f] is not ordered", est.ConfidenceLow, est.ConfidenceHigh)
	}
	if est.SampleSize != 6 {
		t.Errorf("sample size = %d, want 6", est.SampleSize)
	}
}

func TestEstimateHighAbilityPattern(t *testing.T) {
	// Correct on hard items, one slip on an easy one.
	est := Estimate([]Observation{
		obs(true, 80), obs(true, 85), obs(true, 90), obs(false, 30), obs(true, 75),
	})

	if est.Theta <= 0 {
		t.Errorf("theta = %f, want positive for mostly-correct hard items", est.Theta)
	}
}

func TestEstimateEmpty(t *testing.T) {
	est := Estimate(nil)
	if est.Theta != 0 || est.SampleSize != 0 {
		t.Errorf("empty estimate = %+v, want neutral", est)
	}
	if est.Converged {
		t.Error("empty set must not report convergence")
	}
}

func TestShouldStopEarly(t *testing.T) {
	tests := []struct {
		name       string
		low, high  float64
		sampleSize int
		want       bool
	}{
		{"narrow, enough samples", -0.2, 0.2, 5, true},
		{"narrow, too few samples", -0.1, 0.1, 2, false},
		{"wide, enough samples", -1.0, 1.0, 8, false},
		{"exactly three samples", -0.25, 0.25, 3, true},
		{"just over the width line", 0, 0.6, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := models.AbilityEstimate{
				ConfidenceLow:  tt.low,
				ConfidenceHigh: tt.high,
				SampleSize:     tt.sampleSize,
			}
			if got := ShouldStopEarly(est); got != tt.want {
				t.Errorf("ShouldStopEarly(width=%f, n=%d) = %v, want %v",
					tt.high-tt.low, tt.sampleSize, got, tt.want)
			}
		})
	}
}

func TestAbilityRank(t *testing.T) {
	if got := AbilityRank(-4); got != 0 {
		t.Errorf("AbilityRank(-4) = %f, want 0", got)
	}
	if got := AbilityRank(4); got != 1 {
		t.Errorf("AbilityRank(4) = %f, want 1", got)
	}
	if got := AbilityRank(0); got != 0.5 {
		t.Errorf("AbilityRank(0) = %f, want 0.5", got)
	}
}
