package media

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/wordreel/internal/reel"
)

func TestWriteConcat(t *testing.T) {
	var sb strings.Builder
	writeConcat(&sb, []string{"frame_00000.png", "frame_00001.png"}, reel.TimingPlan{0.7, 1.0})

	want := "ffconcat version 1.0\n" +
		"file 'frame_00000.png'\n" +
		"duration 0.700000\n" +
		"file 'frame_00001.png'\n" +
		"duration 1.000000\n" +
		"file 'frame_00001.png'\n"
	if got := sb.String(); got != want {
		t.Errorf("concat list:\n%s\nwant:\n%s", got, want)
	}
}

func TestEscapeConcatPath(t *testing.T) {
	if got := escapeConcatPath("it's.png"); got != `it'\''s.png` {
		t.Errorf("escapeConcatPath = %q", got)
	}
}

func TestBuildArgs(t *testing.T) {
	e := NewFFmpegEncoder(EncoderOptions{Preset: "veryfast", Log: zerolog.Nop()})
	args := e.buildArgs("/tmp/x/frames.ffconcat", "/tmp/speech.mp3", 24, 1.7, "/tmp/x/out.mp4")

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-f concat",
		"-safe 0",
		"-i /tmp/x/frames.ffconcat",
		"-i /tmp/speech.mp3",
		"-c:v libx264",
		"-c:a aac",
		"-pix_fmt yuv420p",
		"-r 24",
		"-t 1.700",
		"-preset veryfast",
		"/tmp/x/out.mp4",
		"-y",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}

	// concat options must precede the list input they apply to
	fi := slices.Index(args, "-f")
	li := slices.Index(args, "/tmp/x/frames.ffconcat")
	if fi < 0 || li < 0 || fi > li {
		t.Errorf("-f concat must come before the list input: %v", args)
	}
}

func TestBuildArgs_NoPreset(t *testing.T) {
	e := NewFFmpegEncoder(EncoderOptions{Log: zerolog.Nop()})
	args := e.buildArgs("l", "a", 30, 2, "o.mp4")
	if slices.Contains(args, "-preset") {
		t.Errorf("unexpected -preset: %v", args)
	}
}

func TestWriteFrames(t *testing.T) {
	dir := t.TempDir()
	frames := []reel.Frame{
		{Index: 0, Word: "a", Image: image.NewRGBA(image.Rect(0, 0, 4, 2))},
		{Index: 1, Word: "b", Image: image.NewRGBA(image.Rect(0, 0, 4, 2))},
	}
	names, err := writeFrames(dir, frames)
	if err != nil {
		t.Fatalf("writeFrames: %v", err)
	}
	if len(names) != 2 || names[0] != "frame_00000.png" || names[1] != "frame_00001.png" {
		t.Fatalf("names = %v", names)
	}
	fh, err := os.Open(filepath.Join(dir, names[1]))
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	cfg, err := png.DecodeConfig(fh)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 4 || cfg.Height != 2 {
		t.Errorf("png size = %dx%d", cfg.Width, cfg.Height)
	}
}

func TestWriteFrames_MissingImage(t *testing.T) {
	if _, err := writeFrames(t.TempDir(), []reel.Frame{{Index: 0}}); err == nil {
		t.Fatal("expected error for frame without image")
	}
}

func TestEncode_Validation(t *testing.T) {
	e := NewFFmpegEncoder(EncoderOptions{Log: zerolog.Nop()})
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	tests := []struct {
		name string
		req  reel.EncodeRequest
	}{
		{"no frames", reel.EncodeRequest{FrameRate: 24}},
		{"length mismatch", reel.EncodeRequest{
			Frames:    []reel.Frame{{Image: img}},
			Plan:      reel.TimingPlan{1, 1},
			FrameRate: 24,
		}},
		{"zero frame rate", reel.EncodeRequest{
			Frames: []reel.Frame{{Image: img}},
			Plan:   reel.TimingPlan{1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Encode(context.Background(), tt.req)
			if reel.KindOf(err) != reel.KindEncoding {
				t.Errorf("KindOf(err) = %v, want encoding (err=%v)", reel.KindOf(err), err)
			}
		})
	}
}

func TestEncode_MissingBinary(t *testing.T) {
	dir := t.TempDir()
	e := NewFFmpegEncoder(EncoderOptions{
		FFmpegPath: filepath.Join(dir, "no-such-ffmpeg"),
		TempDir:    dir,
		Log:        zerolog.Nop(),
	})
	out := filepath.Join(dir, "out.mp4")
	err := e.Encode(context.Background(), reel.EncodeRequest{
		Frames:     []reel.Frame{{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}},
		Plan:       reel.TimingPlan{1},
		AudioPath:  filepath.Join(dir, "speech.mp3"),
		FrameRate:  24,
		OutputPath: out,
	})
	if reel.KindOf(err) != reel.KindEncoding {
		t.Fatalf("KindOf(err) = %v, want encoding", reel.KindOf(err))
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("output exists after failed encode")
	}
	// scratch dir is cleaned up
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "wordreel-encode-") {
			t.Errorf("scratch dir %s left behind", e.Name())
		}
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	if err := os.WriteFile(src, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := moveFile(src, dst); err != nil {
		t.Fatalf("moveFile: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "video" {
		t.Errorf("dst = %q, %v", b, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("src still exists")
	}
}

func TestTail(t *testing.T) {
	if got := tail("  short \n", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("abcdefghij", 3); got != "...hij" {
		t.Errorf("tail = %q", got)
	}
}
