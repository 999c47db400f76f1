package edit

import (
	"errors"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	p := NewParameters("/videos/clip.mp4")

	valid, err := Validate(p, 10_000)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if valid.TrimEndMs != 10_000 {
		t.Errorf("resolved TrimEndMs = %d, want 10000", valid.TrimEndMs)
	}
	if valid.TrimDurationMs() != 10_000 {
		t.Errorf("TrimDurationMs() = %d, want 10000", valid.TrimDurationMs())
	}
}

func TestValidate_FirstViolation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Parameters)
		wantField string
	}{
		{"negative trim start", func(p *Parameters) { p.TrimStartMs = -1 }, "trim_start_ms"},
		{"end before start", func(p *Parameters) { p.TrimStartMs = 5000; p.TrimEndMs = 4000 }, "trim_end_ms"},
		{"end equals start", func(p *Parameters) { p.TrimStartMs = 5000; p.TrimEndMs = 5000 }, "trim_end_ms"},
		{"end past source", func(p *Parameters) { p.TrimEndMs = 12_000 }, "trim_end_ms"},
		{"brightness too low", func(p *Parameters) { p.Brightness = -51 }, "brightness"},
		{"brightness too high", func(p *Parameters) { p.Brightness = 50.5 }, "brightness"},
		{"contrast too low", func(p *Parameters) { p.Contrast = 0.4 }, "contrast"},
		{"contrast too high", func(p *Parameters) { p.Contrast = 2.1 }, "contrast"},
		{"rotation not right angle", func(p *Parameters) { p.RotationAngle = 45 }, "rotation_angle"},
		{"crop out of bounds", func(p *Parameters) { p.Crop = &CropRect{Left: -0.1, Top: 0, Right: 1, Bottom: 1} }, "crop"},
		{"crop inverted", func(p *Parameters) { p.Crop = &CropRect{Left: 0.8, Top: 0, Right: 0.2, Bottom: 1} }, "crop"},
		{"crop below minimum size", func(p *Parameters) { p.Crop = &CropRect{Left: 0.5, Top: 0, Right: 0.55, Bottom: 1} }, "crop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParameters("/videos/clip.mp4")
			tt.mutate(&p)

			_, err := Validate(p, 10_000)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestValidate_TrimBothOrderChecked(t *testing.T) {
	// When multiple constraints are broken, only the first (trim) surfaces.
	p := NewParameters("/videos/clip.mp4")
	p.TrimStartMs = -5
	p.Brightness = 100

	_, err := Validate(p, 10_000)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	if verr.Field != "trim_start_ms" {
		t.Errorf("ValidationError.Field = %q, want trim_start_ms", verr.Field)
	}
}

func TestValidate_UnknownDurationSkipsUpperBound(t *testing.T) {
	p := NewParameters("/videos/clip.mp4")
	p.TrimStartMs = 2000
	p.TrimEndMs = 8_000_000

	if _, err := Validate(p, 0); err != nil {
		t.Fatalf("Validate() with unknown duration error = %v", err)
	}
}

func TestValidate_NormalizesRotation(t *testing.T) {
	for _, tt := range []struct {
		angle, want int
	}{
		{0, 0}, {90, 90}, {180, 180}, {270, 270},
		{360, 0}, {450, 90}, {-90, 270}, {-270, 90},
	} {
		p := NewParameters("/videos/clip.mp4")
		p.RotationAngle = tt.angle

		valid, err := Validate(p, 10_000)
		if err != nil {
			t.Fatalf("Validate(rotation=%d) error = %v", tt.angle, err)
		}
		if valid.RotationAngle != tt.want {
			t.Errorf("rotation %d normalized to %d, want %d", tt.angle, valid.RotationAngle, tt.want)
		}
	}
}

func TestTrivial_Untouched(t *testing.T) {
	p := NewParameters("/videos/clip.mp4")
	if !p.Trivial(10_000) {
		t.Error("untouched parameters should be trivial")
	}

	full := FullFrame()
	p.Crop = &full
	if !p.Trivial(10_000) {
		t.Error("full-frame crop should still be trivial")
	}

	near := CropRect{Left: 0.005, Top: 0, Right: 0.999, Bottom: 1}
	p.Crop = &near
	if !p.Trivial(10_000) {
		t.Error("crop within epsilon of full frame should be trivial")
	}
}

func TestTrivial_SingleFieldChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"trim start moved", func(p *Parameters) { p.TrimStartMs = 100 }},
		{"trim end shortened", func(p *Parameters) { p.TrimEndMs = 9000 }},
		{"brightness changed", func(p *Parameters) { p.Brightness = 10 }},
		{"contrast changed", func(p *Parameters) { p.Contrast = 1.2 }},
		{"rotation changed", func(p *Parameters) { p.RotationAngle = 90 }},
		{"crop shrunk", func(p *Parameters) { p.Crop = &CropRect{Left: 0.2, Top: 0.2, Right: 0.8, Bottom: 0.8} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParameters("/videos/clip.mp4")
			tt.mutate(&p)
			if p.Trivial(10_000) {
				t.Error("edit should not be trivial")
			}
		})
	}
}

func TestTrivial_TrimToExactDuration(t *testing.T) {
	p := NewParameters("/videos/clip.mp4")
	p.TrimEndMs = 10_000
	if !p.Trivial(10_000) {
		t.Error("trim spanning the whole source should be trivial")
	}
}

func TestTrivial_ExplicitTrimEndUnknownDuration(t *testing.T) {
	// With no known duration an explicit end offset cannot be proven to
	// span the whole source, so the copy short circuit must not apply.
	p := NewParameters("/videos/clip.mp4")
	p.TrimEndMs = 5000
	if p.Trivial(0) {
		t.Error("explicit trim end with unknown duration should not be trivial")
	}
	if p.Trivial(-1) {
		t.Error("explicit trim end with negative duration should not be trivial")
	}

	open := NewParameters("/videos/clip.mp4")
	if !open.Trivial(0) {
		t.Error("open-ended trim with unknown duration should stay trivial")
	}
}

func TestCropRect_Clamp(t *testing.T) {
	tests := []struct {
		name string
		in   CropRect
	}{
		{"inverted edges", CropRect{Left: 0.9, Top: 0.8, Right: 0.1, Bottom: 0.2}},
		{"out of bounds", CropRect{Left: -2, Top: -2, Right: 3, Bottom: 3}},
		{"degenerate", CropRect{Left: 0.5, Top: 0.5, Right: 0.5, Bottom: 0.5}},
		{"degenerate at corner", CropRect{Left: 1, Top: 1, Right: 1, Bottom: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp()
			assertValidRect(t, got)
		})
	}
}

func assertValidRect(t *testing.T, r CropRect) {
	t.Helper()
	if r.Left < 0 || r.Top < 0 || r.Right > 1 || r.Bottom > 1 {
		t.Errorf("rect %+v outside [0,1]", r)
	}
	if r.Width() < MinCropFraction-1e-9 {
		t.Errorf("rect %+v width %f below minimum", r, r.Width())
	}
	if r.Height() < MinCropFraction-1e-9 {
		t.Errorf("rect %+v height %f below minimum", r, r.Height())
	}
}
