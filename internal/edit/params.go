// Package edit defines the edit-parameter model and the crop geometry
// engine. Everything in this package is pure: no I/O, no hidden state.
package edit

import (
	"fmt"
	"math"
)

const (
	MinBrightness = -50.0
	MaxBrightness = 50.0
	MinContrast   = 0.5
	MaxContrast   = 2.0

	// MinCropFraction is the smallest width or height a crop rectangle may
	// have, as a fraction of the frame dimension.
	MinCropFraction = 0.1

	// FullFrameEpsilon is the tolerance within which a crop rectangle is
	// considered to cover the whole frame.
	FullFrameEpsilon = 0.01

	// trivialEpsilon is the tolerance for brightness and contrast when
	// deciding whether an edit set is a no-op.
	trivialEpsilon = 1e-3
)

// CropRect is a normalized rectangle in [0,1]x[0,1] frame coordinates.
// Left/Top is the origin; Right must be greater than Left and Bottom
// greater than Top for the rectangle to be valid.
type CropRect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// FullFrame returns the rectangle covering the entire frame.
func FullFrame() CropRect {
	return CropRect{Left: 0, Top: 0, Right: 1, Bottom: 1}
}

func (c CropRect) Width() float64  { return c.Right - c.Left }
func (c CropRect) Height() float64 { return c.Bottom - c.Top }

// IsFullFrame reports whether the rectangle covers the whole frame within
// FullFrameEpsilon.
func (c CropRect) IsFullFrame() bool {
	return c.Left <= FullFrameEpsilon &&
		c.Top <= FullFrameEpsilon &&
		c.Right >= 1-FullFrameEpsilon &&
		c.Bottom >= 1-FullFrameEpsilon
}

// Clamp returns the nearest valid rectangle: edges ordered and bounded to
// [0,1], width and height at least MinCropFraction. It never rejects input.
func (c CropRect) Clamp() CropRect {
	r := c
	if r.Right < r.Left {
		r.Left, r.Right = r.Right, r.Left
	}
	if r.Bottom < r.Top {
		r.Top, r.Bottom = r.Bottom, r.Top
	}
	r.Left = clamp01(r.Left)
	r.Top = clamp01(r.Top)
	r.Right = clamp01(r.Right)
	r.Bottom = clamp01(r.Bottom)

	if r.Width() < MinCropFraction {
		r.Right = r.Left + MinCropFraction
		if r.Right > 1 {
			r.Right = 1
			r.Left = 1 - MinCropFraction
		}
	}
	if r.Height() < MinCropFraction {
		r.Bottom = r.Top + MinCropFraction
		if r.Bottom > 1 {
			r.Bottom = 1
			r.Top = 1 - MinCropFraction
		}
	}
	return r
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// Parameters describes one edit request. Values are plain data; treat them
// as immutable once built. Trim offsets are milliseconds from the start of
// the source; TrimEndMs == 0 means "end of source".
type Parameters struct {
	SourcePath    string    `json:"source_path"`
	TrimStartMs   int64     `json:"trim_start_ms"`
	TrimEndMs     int64     `json:"trim_end_ms"`
	Brightness    float64   `json:"brightness"`
	Contrast      float64   `json:"contrast"`
	RotationAngle int       `json:"rotation_angle"`
	Crop          *CropRect `json:"crop,omitempty"`
}

// NewParameters returns a no-op parameter set for a source file: full trim
// span, neutral color, no rotation, no crop.
func NewParameters(sourcePath string) Parameters {
	return Parameters{
		SourcePath: sourcePath,
		Contrast:   1.0,
	}
}

// NormalizedRotation returns the rotation folded into {0, 90, 180, 270}.
// Rotations that are not a multiple of 90 are not normalized here; Validate
// rejects them.
func (p Parameters) NormalizedRotation() int {
	return ((p.RotationAngle % 360) + 360) % 360
}

// Trivial reports whether the edit set is equivalent to a no-op over a
// source of the given duration, making the export eligible for a plain
// byte copy.
func (p Parameters) Trivial(sourceDurationMs int64) bool {
	if p.TrimStartMs != 0 {
		return false
	}
	// An explicit end offset is only a no-op when it provably reaches the
	// end of the source; with an unknown duration the trim must be applied.
	if p.TrimEndMs != 0 && (sourceDurationMs <= 0 || p.TrimEndMs < sourceDurationMs) {
		return false
	}
	if math.Abs(p.Brightness) > trivialEpsilon {
		return false
	}
	if math.Abs(p.Contrast-1.0) > trivialEpsilon {
		return false
	}
	if p.NormalizedRotation() != 0 {
		return false
	}
	if p.Crop != nil && !p.Crop.IsFullFrame() {
		return false
	}
	return true
}

// ValidParameters is a parameter set that passed Validate. The trim span is
// resolved against the source duration, and the rotation is normalized.
type ValidParameters struct {
	Parameters
	SourceDurationMs int64
}

// ValidationError identifies the first violated constraint. Callers fix the
// named field and resubmit; constraints are not aggregated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the parameter set against a source of the given duration
// and returns a resolved ValidParameters. sourceDurationMs <= 0 means the
// duration is unknown, which disables the upper trim bound. Checks run in
// order: trim, brightness, contrast, rotation, crop.
func Validate(p Parameters, sourceDurationMs int64) (ValidParameters, error) {
	if p.TrimStartMs < 0 {
		return ValidParameters{}, &ValidationError{Field: "trim_start_ms", Reason: "must not be negative"}
	}
	trimEnd := p.TrimEndMs
	if trimEnd == 0 && sourceDurationMs > 0 {
		trimEnd = sourceDurationMs
	}
	if trimEnd != 0 && trimEnd <= p.TrimStartMs {
		return ValidParameters{}, &ValidationError{Field: "trim_end_ms", Reason: "must be greater than trim_start_ms"}
	}
	if sourceDurationMs > 0 && trimEnd > sourceDurationMs {
		return ValidParameters{}, &ValidationError{
			Field:  "trim_end_ms",
			Reason: fmt.Sprintf("exceeds source duration of %dms", sourceDurationMs),
		}
	}
	if p.Brightness < MinBrightness || p.Brightness > MaxBrightness {
		return ValidParameters{}, &ValidationError{
			Field:  "brightness",
			Reason: fmt.Sprintf("must be within [%.0f, %.0f]", MinBrightness, MaxBrightness),
		}
	}
	if p.Contrast < MinContrast || p.Contrast > MaxContrast {
		return ValidParameters{}, &ValidationError{
			Field:  "contrast",
			Reason: fmt.Sprintf("must be within [%.1f, %.1f]", MinContrast, MaxContrast),
		}
	}
	if p.RotationAngle%90 != 0 {
		return ValidParameters{}, &ValidationError{Field: "rotation_angle", Reason: "must be a multiple of 90 degrees"}
	}
	if c := p.Crop; c != nil {
		if c.Left < 0 || c.Top < 0 || c.Right > 1 || c.Bottom > 1 {
			return ValidParameters{}, &ValidationError{Field: "crop", Reason: "edges must be within [0, 1]"}
		}
		if c.Right <= c.Left || c.Bottom <= c.Top {
			return ValidParameters{}, &ValidationError{Field: "crop", Reason: "right must exceed left and bottom must exceed top"}
		}
		if c.Width() < MinCropFraction || c.Height() < MinCropFraction {
			return ValidParameters{}, &ValidationError{
				Field:  "crop",
				Reason: fmt.Sprintf("width and height must be at least %.1f of the frame", MinCropFraction),
			}
		}
	}

	resolved := p
	resolved.TrimEndMs = trimEnd
	resolved.RotationAngle = p.NormalizedRotation()
	return ValidParameters{Parameters: resolved, SourceDurationMs: sourceDurationMs}, nil
}

// TrimDurationMs returns the length of the retained interval.
func (v ValidParameters) TrimDurationMs() int64 {
	if v.TrimEndMs == 0 {
		return 0
	}
	return v.TrimEndMs - v.TrimStartMs
}
