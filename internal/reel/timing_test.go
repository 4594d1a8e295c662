package reel

import (
	"errors"
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name       string
		total      float64
		count      int
		adjustment float64
		want       TimingPlan
	}{
		{"two_words_lead_in", 2.0, 2, -0.3, TimingPlan{0.7, 1.0}},
		{"single_word", 1.5, 1, -0.3, TimingPlan{1.2}},
		{"no_adjustment", 3.0, 3, 0, TimingPlan{1, 1, 1}},
		{"positive_adjustment", 4.0, 4, 0.5, TimingPlan{1.5, 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Allocate(tt.total, tt.count, tt.adjustment)
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			if len(plan) != tt.count {
				t.Fatalf("len(plan) = %d, want %d", len(plan), tt.count)
			}
			for i := range plan {
				if !approxEqual(plan[i], tt.want[i]) {
					t.Errorf("plan[%d] = %v, want %v", i, plan[i], tt.want[i])
				}
			}
			if !approxEqual(plan.Total(), tt.total+tt.adjustment) {
				t.Errorf("Total() = %v, want %v", plan.Total(), tt.total+tt.adjustment)
			}
		})
	}
}

func TestAllocate_LengthMatchesWordCount(t *testing.T) {
	for count := 1; count <= 50; count++ {
		plan, err := Allocate(10, count, -0.05)
		if err != nil {
			t.Fatalf("count=%d: %v", count, err)
		}
		if len(plan) != count {
			t.Fatalf("count=%d: len(plan) = %d", count, len(plan))
		}
		avg := 10 / float64(count)
		for i := 1; i < count; i++ {
			if !approxEqual(plan[i], avg) {
				t.Fatalf("count=%d: plan[%d] = %v, want %v", count, i, plan[i], avg)
			}
		}
	}
}

func TestAllocate_NonPositiveDuration(t *testing.T) {
	tests := []struct {
		name       string
		total      float64
		count      int
		adjustment float64
	}{
		{"adjustment_cancels_avg", 0.6, 2, -0.3},
		{"adjustment_exceeds_avg", 1.0, 10, -0.3},
		{"zero_total", 0, 3, 0},
		{"negative_total", -1, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(tt.total, tt.count, tt.adjustment)
			if !errors.Is(err, ErrDuration) {
				t.Fatalf("err = %v, want duration error", err)
			}
		})
	}
}

func TestAllocate_NoWords(t *testing.T) {
	_, err := Allocate(2, 0, 0)
	if KindOf(err) != KindInput {
		t.Fatalf("KindOf(err) = %v, want input", KindOf(err))
	}
}
