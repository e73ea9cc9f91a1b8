// Package overlay draws annotations over a live frame at render time.
//
// Annotations are kept in a list and composed onto a copy of the display
// image when a preview is requested.  The live frame is never painted on.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/nasa-jpl/daisy/transform"
)

// Shape is the outline drawn for an annotation
type Shape int

const (
	// Circle is drawn with Size as its radius
	Circle Shape = iota

	// Square is drawn with Size as its side
	Square
)

// Layer groups annotations so one kind can be replaced without touching the others
type Layer string

const (
	// Positions are the projected exposure positions
	Positions Layer = "positions"

	// References are the two operator-marked reference points
	References Layer = "references"

	// Origin is the estimated spot center
	Origin Layer = "origin"
)

const (
	// PositionRadius is the circle radius for projected positions
	PositionRadius = 12

	// ReferenceSize is the side of the reference mark square
	ReferenceSize = 50

	// OriginRadius is the circle radius for the estimated origin
	OriginRadius = 20

	// DefaultPen is the outline width in pixels
	DefaultPen = 10

	// DefaultPreviewScale is the preview zoom
	DefaultPreviewScale = 0.3
)

// Red is the annotation color
var Red = color.RGBA{R: 255, A: 255}

// Annotation is one outline in pixel space
type Annotation struct {
	Shape  Shape           `json:"shape"`
	Center transform.Point `json:"center"`
	Size   float64         `json:"size"`
}

// List is a concurrent-safe set of annotation layers
type List struct {
	mu     sync.Mutex
	layers map[Layer][]Annotation
}

// NewList returns an empty list
func NewList() *List {
	return &List{layers: make(map[Layer][]Annotation)}
}

// Set replaces a layer
func (l *List) Set(layer Layer, anns []Annotation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.layers[layer] = append([]Annotation(nil), anns...)
}

// Add appends to a layer
func (l *List) Add(layer Layer, a Annotation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.layers[layer] = append(l.layers[layer], a)
}

// Clear empties every layer
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.layers = make(map[Layer][]Annotation)
}

// All returns every annotation, in layer order positions, references, origin
func (l *List) All() []Annotation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Annotation
	for _, ly := range []Layer{Positions, References, Origin} {
		out = append(out, l.layers[ly]...)
	}
	return out
}

// PositionMarks returns one position circle per pixel
func PositionMarks(px []transform.Point) []Annotation {
	out := make([]Annotation, len(px))
	for i, p := range px {
		out[i] = Annotation{Shape: Circle, Center: p, Size: PositionRadius}
	}
	return out
}

// Compose copies img into an RGBA image and outlines each annotation
func Compose(img image.Image, anns []Annotation, pen int) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	if pen < 1 {
		pen = 1
	}
	for _, a := range anns {
		switch a.Shape {
		case Square:
			drawSquare(out, a.Center, a.Size, pen)
		default:
			drawCircle(out, a.Center, a.Size, pen)
		}
	}
	return out
}

// Render composes anns over img and scales the result by scale.  A scale of
// 1 or less than or equal to 0 returns the composite at full size.
func Render(img image.Image, anns []Annotation, scale float64) image.Image {
	comp := Compose(img, anns, DefaultPen)
	return Scale(comp, scale)
}

// Scale resizes img by a factor with bilinear interpolation
func Scale(img image.Image, scale float64) image.Image {
	if scale <= 0 || scale == 1 {
		return img
	}
	b := img.Bounds()
	w, h := int(float64(b.Dx())*scale+0.5), int(float64(b.Dy())*scale+0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func drawCircle(img *image.RGBA, c transform.Point, r float64, pen int) {
	b := img.Bounds()
	inner := r - float64(pen)/2
	outer := r + float64(pen)/2
	rect := image.Rect(int(c.X-outer)-1, int(c.Y-outer)-1, int(c.X+outer)+2, int(c.Y+outer)+2).Intersect(b)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			d := transform.Point{X: float64(x), Y: float64(y)}.Distance(c)
			if d >= inner && d <= outer {
				img.SetRGBA(x, y, Red)
			}
		}
	}
}

func drawSquare(img *image.RGBA, c transform.Point, side float64, pen int) {
	half := side / 2
	x0, y0 := int(c.X-half), int(c.Y-half)
	x1, y1 := int(c.X+half), int(c.Y+half)
	edges := []image.Rectangle{
		image.Rect(x0, y0, x1, y0+pen),
		image.Rect(x0, y1-pen, x1, y1),
		image.Rect(x0, y0, x0+pen, y1),
		image.Rect(x1-pen, y0, x1, y1),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), &image.Uniform{C: Red}, image.Point{}, draw.Src)
	}
}
