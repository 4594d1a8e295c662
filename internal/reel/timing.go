package reel

// TimingPlan holds the on-screen duration of each frame in seconds, aligned
// 1:1 with words.
type TimingPlan []float64

// Total returns the summed duration in seconds.
func (p TimingPlan) Total() float64 {
	var sum float64
	for _, d := range p {
		sum += d
	}
	return sum
}

// Allocate splits the measured speech duration evenly across wordCount words
// and folds adjustment into the first word, which absorbs the lead-in that
// speech engines put before the first utterance.
//
// The plan has exactly one entry per frame.
//
// A non-positive frame duration fails with KindDuration and is never clamped.
func Allocate(totalDuration float64, wordCount int, adjustment float64) (TimingPlan, error) {
	if wordCount < 1 {
		return nil, Errorf(KindInput, "word count %d: need at least one word", wordCount)
	}
	avg := totalDuration / float64(wordCount)
	if avg <= 0 {
		return nil, Errorf(KindDuration, "average word duration %.3fs is not positive (total %.3fs, %d words)", avg, totalDuration, wordCount)
	}
	first := avg + adjustment
	if first <= 0 {
		return nil, Errorf(KindDuration, "first word duration %.3fs is not positive (avg %.3fs, adjustment %.3fs)", first, avg, adjustment)
	}

	plan := make(TimingPlan, wordCount)
	plan[0] = first
	for i := 1; i < wordCount; i++ {
		plan[i] = avg
	}
	return plan, nil
}
