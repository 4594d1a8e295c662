package reel

import "context"

// EncodeRequest is everything an encoder needs for one video: frames in
// display order, how long each stays on screen, and the narration to mux in
// from t=0.
type EncodeRequest struct {
	Frames     []Frame
	Plan       TimingPlan
	AudioPath  string
	FrameRate  int // nominal output rate; dwell time comes from Plan
	OutputPath string
}

// Encoder writes a finished container. Failures should be KindEncoding.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}
