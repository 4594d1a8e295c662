package media

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestParseProbeDuration(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    float64
		wantErr bool
	}{
		{"normal", `{"format":{"duration":"2.016000"}}`, 2.016, false},
		{"integer", `{"format":{"duration":"3"}}`, 3, false},
		{"missing", `{"format":{}}`, 0, true},
		{"n/a", `{"format":{"duration":"N/A"}}`, 0, true},
		{"garbage", `{"format":{"duration":"abc"}}`, 0, true},
		{"not json", `Invalid data found`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeDuration([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProber_MissingBinary(t *testing.T) {
	p := NewProber(filepath.Join(t.TempDir(), "no-ffprobe"), time.Second)
	if _, err := p.Duration(context.Background(), "x.mp3"); err == nil {
		t.Fatal("expected error for missing ffprobe")
	}
}

func TestNewProber_Default(t *testing.T) {
	if p := NewProber("", 0); p.path != "ffprobe" {
		t.Errorf("path = %q, want ffprobe", p.path)
	}
}
