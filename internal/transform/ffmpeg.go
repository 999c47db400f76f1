package transform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cliplab/cliplab-agent/internal/edit"
)

const (
	// maxStderrBytes is the tail of stderr kept for diagnostics.
	maxStderrBytes = 8 * 1024

	defaultTransformTimeout = 30 * time.Minute
	defaultProbeTimeout     = 30 * time.Second
)

// FFmpegConfig holds the subprocess transform's configuration.
type FFmpegConfig struct {
	FFmpegPath       string // path to ffmpeg binary; empty = look up in PATH
	FFprobePath      string // path to ffprobe binary; empty = look up in PATH
	TransformTimeout time.Duration
	ProbeTimeout     time.Duration
	Logger           *slog.Logger
}

// FFmpeg renders edits by driving an ffmpeg subprocess and parsing its
// machine-readable progress output.
type FFmpeg struct {
	cfg     FFmpegConfig
	ffmpeg  string
	ffprobe string
}

// NewFFmpeg resolves the ffmpeg and ffprobe binaries up front so a missing
// installation surfaces at startup, not mid-export.
func NewFFmpeg(cfg FFmpegConfig) (*FFmpeg, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	if cfg.TransformTimeout <= 0 {
		cfg.TransformTimeout = defaultTransformTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("ffmpeg transform initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	}
	return &FFmpeg{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

func resolveBinary(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("cannot locate %s: %w", name, err)
	}
	return path, nil
}

type probePayload struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe runs ffprobe and extracts duration and video stream geometry.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_entries", "stream=codec_type,codec_name,width,height",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &Error{
			ExitCode:   exitCode(cmd),
			StderrTail: tail(stderr.Bytes()),
			Err:        fmt.Errorf("ffprobe: %w", err),
		}
	}

	var payload probePayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if secs, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
		result.DurationMs = int64(secs * 1000)
	}
	for _, s := range payload.Streams {
		if s.CodecType == "video" {
			result.Width = s.Width
			result.Height = s.Height
			result.Codec = s.CodecName
			break
		}
	}
	return result, nil
}

// Transform invokes ffmpeg with filters derived from the edit parameters
// and reports progress parsed from `-progress pipe:1` output.
func (f *FFmpeg) Transform(ctx context.Context, sourcePath string, params edit.ValidParameters, outputPath string, progress func(float64)) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TransformTimeout)
	defer cancel()

	args := buildArgs(sourcePath, params, outputPath)
	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Err: err}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if f.cfg.Logger != nil {
		f.cfg.Logger.Debug("starting ffmpeg", "args", strings.Join(args, " "))
	}
	if err := cmd.Start(); err != nil {
		return &Error{Err: fmt.Errorf("cannot start ffmpeg: %w", err)}
	}

	totalMs := params.TrimDurationMs()
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if frac, ok := parseProgressLine(scanner.Text(), totalMs); ok && progress != nil {
			progress(frac)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{
			ExitCode:   exitCode(cmd),
			StderrTail: tail(stderr.Bytes()),
			Err:        err,
		}
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

// ExtractFrame grabs a single still frame at the given offset and writes it
// as an image file. Used for poster generation, not by the export pipeline.
func (f *FFmpeg) ExtractFrame(ctx context.Context, sourcePath string, offsetMs int64, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-ss", msToSeconds(offsetMs),
		"-i", sourcePath,
		"-frames:v", "1",
		"-y", outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &Error{
			ExitCode:   exitCode(cmd),
			StderrTail: tail(stderr.Bytes()),
			Err:        err,
		}
	}
	return nil
}

// exitCode is safe against processes that never started, where
// ProcessState is nil (e.g. the binary vanished after the startup lookup).
func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// buildArgs assembles the ffmpeg invocation. Filter order matters: crop
// runs in source geometry before rotation changes it, and the color matrix
// (contrast scale, brightness offset) runs last.
func buildArgs(sourcePath string, p edit.ValidParameters, outputPath string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}

	if p.TrimStartMs > 0 {
		args = append(args, "-ss", msToSeconds(p.TrimStartMs))
	}
	args = append(args, "-i", sourcePath)
	if d := p.TrimDurationMs(); d > 0 {
		args = append(args, "-t", msToSeconds(d))
	}

	if filter := buildFilter(p); filter != "" {
		args = append(args, "-vf", filter)
	}

	args = append(args, "-progress", "pipe:1", "-nostats", "-n", outputPath)
	return args
}

func buildFilter(p edit.ValidParameters) string {
	var filters []string

	if c := p.Crop; c != nil && !c.IsFullFrame() {
		filters = append(filters, fmt.Sprintf("crop=iw*%s:ih*%s:iw*%s:ih*%s",
			formatFraction(c.Width()), formatFraction(c.Height()),
			formatFraction(c.Left), formatFraction(c.Top)))
	}

	switch p.RotationAngle {
	case 90:
		filters = append(filters, "transpose=1")
	case 180:
		filters = append(filters, "transpose=1,transpose=1")
	case 270:
		filters = append(filters, "transpose=2")
	}

	// Color matrix form: scale by contrast, offset by brightness. The eq
	// filter takes brightness as an additive offset in [-1,1].
	if p.Brightness != 0 || p.Contrast != 1.0 {
		filters = append(filters, fmt.Sprintf("eq=contrast=%s:brightness=%s",
			formatFraction(p.Contrast), formatFraction(p.Brightness/100)))
	}

	return strings.Join(filters, ",")
}

func formatFraction(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func msToSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// parseProgressLine extracts a completion fraction from one line of
// `-progress pipe:1` output. Fractions are clamped to [0,1]; the caller
// enforces monotonicity across lines.
func parseProgressLine(line string, totalMs int64) (float64, bool) {
	if totalMs <= 0 {
		return 0, false
	}
	value, ok := strings.CutPrefix(strings.TrimSpace(line), "out_time_us=")
	if !ok {
		return 0, false
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	frac := float64(us/1000) / float64(totalMs)
	if frac > 1 {
		frac = 1
	}
	return frac, true
}

func tail(b []byte) string {
	if len(b) <= maxStderrBytes {
		return strings.TrimSpace(string(b))
	}
	return strings.TrimSpace(string(b[len(b)-maxStderrBytes:]))
}
