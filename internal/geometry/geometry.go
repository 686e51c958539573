// Package geometry maps compositor coordinates into the normalized space the
// overlay draws in.
package geometry

// Monitor is the geometry of one output in layout coordinates.
type Monitor struct {
	ID     int `json:"id"`
	Width  int `json:"width"`
	Height int `json:"height"`
	X      int `json:"x"`
	Y      int `json:"y"`
	// Transform is the wl_output transform; 4..7 are the flipped variants
	Transform int `json:"transform"`
}

// Valid reports whether the monitor has a usable size.
func (m Monitor) Valid() bool {
	return m.Width > 0 && m.Height > 0
}

// Rect is a rectangle in [0,1] units of the monitor.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Preview fits a monitor into a canvas.
type Preview struct {
	Scale   float64 `json:"scale"`
	ViewW   float64 `json:"view_w"`
	ViewH   float64 `json:"view_h"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// WindowToNormalized maps a window rectangle to monitor-relative [0,1]
// coordinates. Rotated monitors (transform 1 or 3) swap width and height.
func WindowToNormalized(mon Monitor, x, y, w, h int) Rect {
	if !mon.Valid() {
		return Rect{}
	}

	baseW, baseH := float64(mon.Width), float64(mon.Height)
	t := mon.Transform % 4
	if t < 0 {
		t += 4
	}
	if t == 1 || t == 3 {
		baseW, baseH = baseH, baseW
	}

	return Rect{
		X: Clamp(float64(x-mon.X)/baseW, 0, 1),
		Y: Clamp(float64(y-mon.Y)/baseH, 0, 1),
		W: Clamp(float64(w)/baseW, 0, 1),
		H: Clamp(float64(h)/baseH, 0, 1),
	}
}

// PreviewTransform scales a monW x monH monitor uniformly into the canvas
// and centers it. Degenerate inputs yield scale 1 covering the canvas.
func PreviewTransform(monW, monH int, canvasW, canvasH float64) Preview {
	p := Preview{Scale: 1, ViewW: canvasW, ViewH: canvasH}
	if monW <= 0 || monH <= 0 || canvasW <= 0 || canvasH <= 0 {
		return p
	}

	scale := canvasW / float64(monW)
	if sy := canvasH / float64(monH); sy < scale {
		scale = sy
	}

	p.Scale = scale
	p.ViewW = float64(monW) * scale
	p.ViewH = float64(monH) * scale
	p.OffsetX = (canvasW - p.ViewW) / 2
	p.OffsetY = (canvasH - p.ViewH) / 2
	return p
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInt limits v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
