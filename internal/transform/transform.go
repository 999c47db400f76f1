// Package transform defines the frame-transform capability the export
// pipeline is built over, plus its ffmpeg subprocess implementation. The
// pipeline only requires that progress is monotonically non-decreasing in
// [0,1] and that the terminal result is success or a typed failure; it does
// not depend on any codec specifics.
package transform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cliplab/cliplab-agent/internal/edit"
)

// ProbeResult holds the source metadata the pipeline needs.
type ProbeResult struct {
	DurationMs int64
	Width      int
	Height     int
	Codec      string
}

// FrameTransform renders an edit onto a new output file.
type FrameTransform interface {
	// Probe inspects a source file. DurationMs 0 means unknown.
	Probe(ctx context.Context, path string) (*ProbeResult, error)

	// Transform applies the validated parameters to sourcePath and writes
	// the result to outputPath, calling progress with fractions in [0,1].
	// The output may be partially written when an error is returned.
	Transform(ctx context.Context, sourcePath string, params edit.ValidParameters, outputPath string, progress func(float64)) error
}

// Error reports a failed transform invocation with enough context for
// diagnostics. The partial output file, if any, is left in place.
type Error struct {
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *Error) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("transform failed (exit %d): %s", e.ExitCode, e.StderrTail)
	}
	return fmt.Sprintf("transform failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Stub is a copy-only transform for environments without ffmpeg and for
// tests. It ignores the edit parameters.
type Stub struct {
	logger *slog.Logger

	// DurationMs is what Probe reports; 0 means unknown, which disables
	// the upper trim bound during validation.
	DurationMs int64
}

func NewStub(logger *slog.Logger) *Stub {
	return &Stub{logger: logger}
}

func (s *Stub) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &ProbeResult{DurationMs: s.DurationMs}, nil
}

func (s *Stub) Transform(ctx context.Context, sourcePath string, params edit.ValidParameters, outputPath string, progress func(float64)) error {
	if s.logger != nil {
		s.logger.Info("stub transform: copying source without applying edits",
			"source", sourcePath, "output", outputPath)
	}
	if progress != nil {
		progress(0)
	}
	if err := CopyFile(ctx, sourcePath, outputPath); err != nil {
		return &Error{Err: err}
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

// CopyFile writes a byte-preserving copy of src at dst with create-new
// semantics. Used for trivial edit sets and by the stub transform.
func CopyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cannot open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("cannot create output: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy failed: %w", err)
	}
	return out.Close()
}
