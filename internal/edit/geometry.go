package edit

import "math"

// Handle identifies the drag target on a crop rectangle: one of the four
// corners, the four edge midpoints, the center move target, or none.
type Handle int

const (
	HandleNone Handle = iota
	HandleTopLeft
	HandleTopRight
	HandleBottomLeft
	HandleBottomRight
	HandleTop
	HandleBottom
	HandleLeft
	HandleRight
	HandleCenter
)

var handleNames = map[Handle]string{
	HandleNone:        "none",
	HandleTopLeft:     "top_left",
	HandleTopRight:    "top_right",
	HandleBottomLeft:  "bottom_left",
	HandleBottomRight: "bottom_right",
	HandleTop:         "top",
	HandleBottom:      "bottom",
	HandleLeft:        "left",
	HandleRight:       "right",
	HandleCenter:      "center",
}

func (h Handle) String() string {
	if name, ok := handleNames[h]; ok {
		return name
	}
	return "unknown"
}

const (
	// cornerHitRadius applies to corner and edge-midpoint handles, as a
	// fraction of the frame extent.
	cornerHitRadius = 0.03
	// centerHitRadius applies to the center move handle.
	centerHitRadius = 0.06
)

// HitTest returns the handle nearest to the pointer-down position, or
// HandleNone when nothing is within range. Corners win over edge midpoints,
// which win over the center. Deterministic for identical inputs.
func HitTest(rect CropRect, x, y float64) Handle {
	midX := (rect.Left + rect.Right) / 2
	midY := (rect.Top + rect.Bottom) / 2

	corners := []struct {
		h    Handle
		x, y float64
	}{
		{HandleTopLeft, rect.Left, rect.Top},
		{HandleTopRight, rect.Right, rect.Top},
		{HandleBottomLeft, rect.Left, rect.Bottom},
		{HandleBottomRight, rect.Right, rect.Bottom},
	}
	if h := nearest(corners, x, y, cornerHitRadius); h != HandleNone {
		return h
	}

	edges := []struct {
		h    Handle
		x, y float64
	}{
		{HandleTop, midX, rect.Top},
		{HandleBottom, midX, rect.Bottom},
		{HandleLeft, rect.Left, midY},
		{HandleRight, rect.Right, midY},
	}
	if h := nearest(edges, x, y, cornerHitRadius); h != HandleNone {
		return h
	}

	if dist(x, y, midX, midY) <= centerHitRadius {
		return HandleCenter
	}
	return HandleNone
}

func nearest(candidates []struct {
	h    Handle
	x, y float64
}, x, y, radius float64) Handle {
	best := HandleNone
	bestDist := radius
	for _, c := range candidates {
		if d := dist(x, y, c.x, c.y); d <= bestDist {
			best = c.h
			bestDist = d
		}
	}
	return best
}

func dist(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// ApplyDelta moves the edges implied by the handle by (dx, dy) and clamps
// the result. Edges stay within [0,1] and width/height never drop below
// MinCropFraction; drags that would violate this are clamped, not rejected.
// The function is pure and always returns a valid rectangle.
func ApplyDelta(rect CropRect, handle Handle, dx, dy float64) CropRect {
	r := rect.Clamp()

	if handle == HandleCenter {
		return translate(r, dx, dy)
	}

	movesLeft := handle == HandleTopLeft || handle == HandleBottomLeft || handle == HandleLeft
	movesRight := handle == HandleTopRight || handle == HandleBottomRight || handle == HandleRight
	movesTop := handle == HandleTopLeft || handle == HandleTopRight || handle == HandleTop
	movesBottom := handle == HandleBottomLeft || handle == HandleBottomRight || handle == HandleBottom

	switch {
	case movesLeft:
		r.Left = clamp01(r.Left + dx)
		if r.Right-r.Left < MinCropFraction {
			r.Left = r.Right - MinCropFraction
		}
	case movesRight:
		r.Right = clamp01(r.Right + dx)
		if r.Right-r.Left < MinCropFraction {
			r.Right = r.Left + MinCropFraction
		}
	}

	switch {
	case movesTop:
		r.Top = clamp01(r.Top + dy)
		if r.Bottom-r.Top < MinCropFraction {
			r.Top = r.Bottom - MinCropFraction
		}
	case movesBottom:
		r.Bottom = clamp01(r.Bottom + dy)
		if r.Bottom-r.Top < MinCropFraction {
			r.Bottom = r.Top + MinCropFraction
		}
	}

	return r
}

// translate shifts the rectangle without resizing it, clamping the shift so
// the rectangle stays inside the frame.
func translate(r CropRect, dx, dy float64) CropRect {
	w := r.Width()
	h := r.Height()
	left := math.Min(1-w, math.Max(0, r.Left+dx))
	top := math.Min(1-h, math.Max(0, r.Top+dy))
	return CropRect{Left: left, Top: top, Right: left + w, Bottom: top + h}
}
