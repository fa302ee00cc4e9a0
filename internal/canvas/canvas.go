// Package canvas implements the shared raster of a drawing session: brush
// state, independent draw/erase stroke anchors and a bounded undo/redo
// history of raster snapshots.
//
// A Canvas is not safe for concurrent use. Callers serialize access, normally
// through the owning session's guard.
package canvas

import (
	"bytes"
	"image"
	"image/color"
	stddraw "image/draw"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"
)

// Canvas defaults
const (
	DefaultWidth        = 640
	DefaultHeight       = 480
	DefaultHistoryLimit = 50
	DefaultBrushSize    = 10
	DefaultEraseMargin  = 10
)

var (
	// White is the default background colour
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	// Black is the default brush colour
	Black = color.RGBA{A: 255}
)

// Point is a pixel position on the raster
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Position is a normalized position in [0,1]x[0,1], as reported by the gesture source
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Midpoint returns the arithmetic mean of two positions
func Midpoint(a, b Position) Position {
	return Position{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Options configures a new Canvas. Zero values fall back to the defaults.
type Options struct {
	Width        int
	Height       int
	HistoryLimit int
	BrushSize    int
	EraseMargin  int
	BrushColor   color.RGBA
	Background   color.RGBA
}

// DefaultOptions returns the options of a 640x480 white canvas with a black 10px brush
func DefaultOptions() Options {
	return Options{
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		HistoryLimit: DefaultHistoryLimit,
		BrushSize:    DefaultBrushSize,
		EraseMargin:  DefaultEraseMargin,
		BrushColor:   Black,
		Background:   White,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	if o.BrushSize <= 0 {
		o.BrushSize = d.BrushSize
	}
	if o.EraseMargin < 0 {
		o.EraseMargin = d.EraseMargin
	}
	if o.BrushColor == (color.RGBA{}) {
		o.BrushColor = d.BrushColor
	}
	if o.Background == (color.RGBA{}) {
		o.Background = d.Background
	}
	return o
}

// Canvas is a fixed-size RGB raster with brush state and bounded history
type Canvas struct {
	width  int
	height int

	pixmap *gg.Pixmap
	dc     *gg.Context

	brushColor  color.RGBA
	brushSize   int
	eraseMargin int
	background  color.RGBA

	historyLimit int
	// history holds raster snapshots, newest last
	history [][]byte
	redo    [][]byte
	// base is the raster undo falls back to once history is exhausted
	base []byte

	drawAnchor  *Point
	eraseAnchor *Point
}

// New creates a blank canvas
func New(opts Options) *Canvas {
	opts = opts.normalized()
	pm := gg.NewPixmap(opts.Width, opts.Height)
	c := &Canvas{
		width:        opts.Width,
		height:       opts.Height,
		pixmap:       pm,
		dc:           gg.NewContext(opts.Width, opts.Height, gg.WithPixmap(pm)),
		brushColor:   opts.BrushColor,
		brushSize:    opts.BrushSize,
		eraseMargin:  opts.EraseMargin,
		background:   opts.Background,
		historyLimit: opts.HistoryLimit,
	}
	c.fillBackground()
	c.base = c.snapshot()
	return c
}

// Width returns the raster width in pixels
func (c *Canvas) Width() int { return c.width }

// Height returns the raster height in pixels
func (c *Canvas) Height() int { return c.height }

// BrushColor returns the current brush colour
func (c *Canvas) BrushColor() color.RGBA { return c.brushColor }

// SetBrushColor changes the brush colour. Alpha is forced opaque.
func (c *Canvas) SetBrushColor(col color.RGBA) {
	col.A = 255
	c.brushColor = col
}

// BrushSize returns the current brush size in pixels
func (c *Canvas) BrushSize() int { return c.brushSize }

// SetBrushSize changes the brush size; non-positive sizes are ignored
func (c *Canvas) SetBrushSize(size int) {
	if size > 0 {
		c.brushSize = size
	}
}

// HistoryLen returns the number of snapshots in the undo history
func (c *Canvas) HistoryLen() int { return len(c.history) }

// RedoLen returns the number of snapshots available to redo
func (c *Canvas) RedoLen() int { return len(c.redo) }

// Draw continues the gesture draw stroke to p. The first point of a stroke
// only sets the anchor; a repeated point renders nothing. Reports whether a
// segment was rendered.
func (c *Canvas) Draw(p Position) bool {
	c.redo = nil
	pt := c.toPixel(p)
	if c.drawAnchor == nil {
		c.drawAnchor = &pt
		return false
	}
	if *c.drawAnchor == pt {
		return false
	}
	c.renderSegment(*c.drawAnchor, pt, c.brushColor, c.brushSize)
	c.drawAnchor = &pt
	c.commit(false)
	return true
}

// Erase continues the erase stroke to p with the background colour and an
// enlarged brush. Unlike Draw, the first point renders as well.
func (c *Canvas) Erase(p Position) {
	pt := c.toPixel(p)
	from := pt
	if c.eraseAnchor != nil {
		from = *c.eraseAnchor
	}
	c.renderSegment(from, pt, c.background, c.brushSize+c.eraseMargin)
	c.eraseAnchor = &pt
	c.commit(true)
}

// DrawLine renders one segment between two pixel positions, clamped to the
// raster. A nil colour uses the brush colour. Anchors are left untouched.
func (c *Canvas) DrawLine(p1, p2 Point, col *color.RGBA) {
	stroke := c.brushColor
	if col != nil {
		stroke = *col
		stroke.A = 255
	}
	c.renderSegment(c.clamp(p1), c.clamp(p2), stroke, c.brushSize)
	c.commit(false)
}

// ResetAnchors forgets the last point of both stroke kinds
func (c *Canvas) ResetAnchors() {
	c.drawAnchor = nil
	c.eraseAnchor = nil
}

// Clear resets the raster to the background and drops all history
func (c *Canvas) Clear() {
	c.fillBackground()
	c.history = nil
	c.redo = nil
	c.base = c.snapshot()
	c.ResetAnchors()
}

// Undo reverts the newest history entry. Reports false when there is nothing to undo.
func (c *Canvas) Undo() bool {
	n := len(c.history)
	if n == 0 {
		return false
	}
	top := c.history[n-1]
	c.history[n-1] = nil
	c.history = c.history[:n-1]
	c.redo = append(c.redo, top)

	if len(c.history) > 0 {
		c.restore(c.history[len(c.history)-1])
	} else {
		c.restore(c.base)
	}
	c.ResetAnchors()
	return true
}

// Redo re-applies the most recently undone snapshot
func (c *Canvas) Redo() bool {
	n := len(c.redo)
	if n == 0 {
		return false
	}
	snap := c.redo[n-1]
	c.redo = c.redo[:n-1]
	c.history = append(c.history, snap)
	c.restore(snap)
	c.ResetAnchors()
	return true
}

// Raster returns a copy of the current raster
func (c *Canvas) Raster() *image.RGBA {
	return c.pixmap.ToImage()
}

// SetRaster installs img as the current raster. Images of another size are
// resampled to the canvas dimensions; any colour model is converted to
// opaque RGB. History is reset with the installed raster as its base.
func (c *Canvas) SetRaster(img image.Image) {
	if img == nil {
		return
	}
	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	stddraw.Draw(dst, dst.Bounds(), image.NewUniform(c.background), image.Point{}, stddraw.Src)

	b := img.Bounds()
	if b.Dx() == c.width && b.Dy() == c.height {
		stddraw.Draw(dst, dst.Bounds(), img, b.Min, stddraw.Over)
	} else {
		xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	}
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 255
	}

	copy(c.pixmap.Data(), dst.Pix)
	c.pixmap.NotifyPixelsChanged()
	c.history = nil
	c.redo = nil
	c.base = c.snapshot()
	c.ResetAnchors()
}

func (c *Canvas) toPixel(p Position) Point {
	return c.clamp(Point{X: int(p.X * float64(c.width)), Y: int(p.Y * float64(c.height))})
}

func (c *Canvas) clamp(p Point) Point {
	return Point{X: clampInt(p.X, 0, c.width-1), Y: clampInt(p.Y, 0, c.height-1)}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// renderSegment strokes a round-capped line; a zero-length segment renders a dot
func (c *Canvas) renderSegment(from, to Point, col color.RGBA, width int) {
	c.dc.SetColor(col)
	x1, y1 := float64(from.X)+0.5, float64(from.Y)+0.5
	if from == to {
		c.dc.DrawCircle(x1, y1, float64(width)/2)
		_ = c.dc.Fill()
		return
	}
	c.dc.SetLineWidth(float64(width))
	c.dc.SetLineCap(gg.LineCapRound)
	c.dc.DrawLine(x1, y1, float64(to.X)+0.5, float64(to.Y)+0.5)
	_ = c.dc.Stroke()
}

// commit appends the current raster to history. Unless force is set, a raster
// identical to the newest entry is not recorded. The redo stack is always cleared.
func (c *Canvas) commit(force bool) {
	c.redo = nil
	cur := c.pixmap.Data()
	if !force && len(c.history) > 0 && bytes.Equal(c.history[len(c.history)-1], cur) {
		return
	}
	c.history = append(c.history, c.snapshot())
	if over := len(c.history) - c.historyLimit; over > 0 {
		c.base = c.history[over-1]
		copy(c.history, c.history[over:])
		for i := len(c.history) - over; i < len(c.history); i++ {
			c.history[i] = nil
		}
		c.history = c.history[:len(c.history)-over]
	}
}

func (c *Canvas) snapshot() []byte {
	return bytes.Clone(c.pixmap.Data())
}

func (c *Canvas) restore(snap []byte) {
	copy(c.pixmap.Data(), snap)
	c.pixmap.NotifyPixelsChanged()
}

func (c *Canvas) fillBackground() {
	c.dc.ClearWithColor(gg.FromColor(c.background))
}
