// Package preview renders quick poster images for library entries: a frame
// is grabbed from the video, the file's edit parameters are applied in
// image space, and the result is cached as PNG. Previews are approximate;
// the export pipeline is the ground truth.
package preview

import (
	"image"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/disintegration/imaging"

	"github.com/cliplab/cliplab-agent/internal/edit"
)

// Apply renders an edit parameter set onto a single frame. The order
// mirrors the export filter chain: crop first, then rotation, then color.
// Trim has no image-space meaning and is ignored.
func Apply(img image.Image, params edit.Parameters) image.Image {
	out := img

	if c := params.Crop; c != nil && !c.IsFullFrame() {
		bounds := out.Bounds()
		w := float64(bounds.Dx())
		h := float64(bounds.Dy())
		rect := image.Rect(
			bounds.Min.X+int(c.Left*w),
			bounds.Min.Y+int(c.Top*h),
			bounds.Min.X+int(c.Right*w),
			bounds.Min.Y+int(c.Bottom*h),
		)
		out = imaging.Crop(out, rect)
	}

	// imaging rotates counter-clockwise; the parameters are clockwise.
	switch params.NormalizedRotation() {
	case 90:
		out = imaging.Rotate270(out)
	case 180:
		out = imaging.Rotate180(out)
	case 270:
		out = imaging.Rotate90(out)
	}

	if b := params.Brightness; b != 0 {
		out = adjust.Brightness(out, b/100)
	}
	if c := params.Contrast; c != 1.0 {
		out = adjust.Contrast(out, c-1.0)
	}

	return out
}
