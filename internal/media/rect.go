package media

// Rect is an axis-aligned rectangle; Right and Bottom are exclusive.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// NewRect builds a rectangle from origin and size.
func NewRect(x, y, w, h int) Rect {
	return Rect{Left: x, Top: y, Right: x + w, Bottom: y + h}
}

// Width returns the rectangle width
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the rectangle height
func (r Rect) Height() int { return r.Bottom - r.Top }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Clamp limits every edge to [0,w]x[0,h].
func (r Rect) Clamp(w, h int) Rect {
	return Rect{
		Left:   clamp(r.Left, 0, w),
		Top:    clamp(r.Top, 0, h),
		Right:  clamp(r.Right, 0, w),
		Bottom: clamp(r.Bottom, 0, h),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
