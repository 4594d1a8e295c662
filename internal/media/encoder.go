package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/wordreel/internal/reel"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// EncoderOptions configures the ffmpeg encoder.
type EncoderOptions struct {
	FFmpegPath   string
	VideoCodec   string // e.g. "libx264"
	AudioCodec   string // e.g. "aac"
	AudioBitrate string // e.g. "192k"
	Preset       string // x264 preset; empty = encoder default
	TempDir      string // parent for per-run scratch dirs; empty = os.TempDir()
	Log          zerolog.Logger
}

// FFmpegEncoder muxes rendered frames and a narration track into an MP4.
// Frames are written as PNGs and fed through ffmpeg's concat demuxer, which
// carries an explicit duration for every image.
type FFmpegEncoder struct {
	opts EncoderOptions
	log  zerolog.Logger
}

// NewFFmpegEncoder creates an encoder. Codec fields fall back to
// libx264/aac/192k when empty.
func NewFFmpegEncoder(opts EncoderOptions) *FFmpegEncoder {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.VideoCodec == "" {
		opts.VideoCodec = "libx264"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "aac"
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = "192k"
	}
	return &FFmpegEncoder{
		opts: opts,
		log:  opts.Log.With().Str("component", "encoder").Logger(),
	}
}

// CheckBinary reports whether an executable can be found at path (or in PATH
// for bare names).
func CheckBinary(path string) error {
	_, err := exec.LookPath(path)
	return err
}

// Encode writes req.OutputPath. The container is produced in a scratch
// directory and renamed into place only on success.
func (e *FFmpegEncoder) Encode(ctx context.Context, req reel.EncodeRequest) error {
	if len(req.Frames) == 0 {
		return reel.Errorf(reel.KindEncoding, "no frames to encode")
	}
	if len(req.Frames) != len(req.Plan) {
		return reel.Errorf(reel.KindEncoding, "%d frames but %d durations", len(req.Frames), len(req.Plan))
	}
	if req.FrameRate <= 0 {
		return reel.Errorf(reel.KindEncoding, "invalid frame rate %d", req.FrameRate)
	}

	dir, err := os.MkdirTemp(e.opts.TempDir, "wordreel-encode-*")
	if err != nil {
		return reel.Errorf(reel.KindEncoding, "create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	names, err := writeFrames(dir, req.Frames)
	if err != nil {
		return reel.Errorf(reel.KindEncoding, "write frames: %w", err)
	}

	listPath := filepath.Join(dir, "frames.ffconcat")
	if err := writeConcatFile(listPath, names, req.Plan); err != nil {
		return reel.Errorf(reel.KindEncoding, "write concat list: %w", err)
	}

	ext := filepath.Ext(req.OutputPath)
	if ext == "" {
		ext = ".mp4"
	}
	tmpOut := filepath.Join(dir, "out"+ext)

	args := e.buildArgs(listPath, req.AudioPath, req.FrameRate, req.Plan.Total(), tmpOut)
	e.log.Debug().Strs("args", args).Msg("running ffmpeg")

	cmd := exec.CommandContext(ctx, e.opts.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return reel.Errorf(reel.KindEncoding, "ffmpeg: %w: %s", err, tail(stderr.String(), 512))
	}

	if err := moveFile(tmpOut, req.OutputPath); err != nil {
		return reel.Errorf(reel.KindEncoding, "move output: %w", err)
	}
	return nil
}

// buildArgs assembles the ffmpeg command line: concat-demuxed frames as the
// video input, the narration as the audio input starting at t=0, output cut
// to the planned video length.
func (e *FFmpegEncoder) buildArgs(listPath, audioPath string, frameRate int, duration float64, outPath string) []string {
	video := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": "0"})
	audio := ffmpeg.Input(audioPath)

	outArgs := ffmpeg.KwArgs{
		"c:v":      e.opts.VideoCodec,
		"pix_fmt":  "yuv420p",
		"r":        strconv.Itoa(frameRate),
		"c:a":      e.opts.AudioCodec,
		"b:a":      e.opts.AudioBitrate,
		"t":        strconv.FormatFloat(duration, 'f', 3, 64),
		"movflags": "+faststart",
	}
	if e.opts.Preset != "" {
		outArgs["preset"] = e.opts.Preset
	}

	return ffmpeg.Output([]*ffmpeg.Stream{video, audio}, outPath, outArgs).
		OverWriteOutput().
		GetArgs()
}

// writeFrames encodes each frame as a PNG named by its index.
func writeFrames(dir string, frames []reel.Frame) ([]string, error) {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	names := make([]string, len(frames))
	for i, f := range frames {
		if f.Image == nil {
			return nil, fmt.Errorf("frame %d has no image", i)
		}
		name := fmt.Sprintf("frame_%05d.png", i)
		fh, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		w := bufio.NewWriter(fh)
		if err := enc.Encode(w, f.Image); err != nil {
			fh.Close()
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if err := w.Flush(); err != nil {
			fh.Close()
			return nil, err
		}
		if err := fh.Close(); err != nil {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}

// writeConcatFile writes an ffconcat script. The last file is listed twice:
// the demuxer ignores the duration of the final entry otherwise.
func writeConcatFile(path string, names []string, plan reel.TimingPlan) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	writeConcat(w, names, plan)
	if err := w.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func writeConcat(w io.Writer, names []string, plan reel.TimingPlan) {
	fmt.Fprintln(w, "ffconcat version 1.0")
	for i, name := range names {
		fmt.Fprintf(w, "file '%s'\n", escapeConcatPath(name))
		fmt.Fprintf(w, "duration %.6f\n", plan[i])
	}
	if len(names) > 0 {
		fmt.Fprintf(w, "file '%s'\n", escapeConcatPath(names[len(names)-1]))
	}
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), "'", `'\''`)
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".video-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
