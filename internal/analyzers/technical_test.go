package analyzers

import (
	"errors"
	"testing"
)

// TestTechnicalAnalyzer_Analyze verifies score direction on synthetic series.
func TestTechnicalAnalyzer_Analyze(t *testing.T) {
	a := NewTechnicalAnalyzer()

	tests := []struct {
		name       string
		closes     []float64
		wantAbove0 bool
	}{
		{
			name:       "steady uptrend is bullish",
			closes:     []float64{100, 102, 104, 106, 108, 110, 112, 114},
			wantAbove0: true,
		},
		{
			name:       "steady downtrend is bearish",
			closes:     []float64{114, 112, 110, 108, 106, 104, 102, 100},
			wantAbove0: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			score, err := a.Analyze(tc.closes)
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if score < -1 || score > 1 {
				t.Fatalf("score = %v, want within [-1, 1]", score)
			}
			if tc.wantAbove0 && score <= 0 {
				t.Errorf("score = %v, want > 0", score)
			}
			if !tc.wantAbove0 && score >= 0 {
				t.Errorf("score = %v, want < 0", score)
			}
		})
	}
}

// TestTechnicalAnalyzer_FlatSeriesIsNeutral verifies a flat series scores zero.
func TestTechnicalAnalyzer_FlatSeriesIsNeutral(t *testing.T) {
	a := NewTechnicalAnalyzer()
	score, err := a.Analyze([]float64{100, 100, 100, 100, 100, 100})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if score != 0 {
		t.Errorf("score = %v, want 0 for flat series", score)
	}
}

// TestTechnicalAnalyzer_InsufficientHistory verifies the history floor.
func TestTechnicalAnalyzer_InsufficientHistory(t *testing.T) {
	a := NewTechnicalAnalyzer()
	if _, err := a.Analyze([]float64{100, 101}); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("Analyze() error = %v, want ErrInsufficientHistory", err)
	}
}

// TestTechnicalAnalyzer_RejectsNonPositiveCloses verifies bad input handling.
func TestTechnicalAnalyzer_RejectsNonPositiveCloses(t *testing.T) {
	a := NewTechnicalAnalyzer()
	if _, err := a.Analyze([]float64{100, 101, 0, 103, 104}); err == nil {
		t.Error("Analyze() expected error for zero close")
	}
}

// TestTechnicalAnalyzer_ScoreIsClamped verifies extreme moves saturate at 1.
func TestTechnicalAnalyzer_ScoreIsClamped(t *testing.T) {
	a := NewTechnicalAnalyzer()
	score, err := a.Analyze([]float64{10, 10, 10, 10, 100})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if score > 1 {
		t.Errorf("score = %v, want <= 1", score)
	}
}
