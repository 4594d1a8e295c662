package reel

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Frame is one rendered word, ready for encoding.
type Frame struct {
	Index      int
	Word       string
	Background RGB
	Image      *image.RGBA
}

// LoadFont parses a TrueType/OpenType file. An empty path selects the bundled
// Go Regular face.
func LoadFont(path string) (*opentype.Font, error) {
	data := goregular.TTF
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read font: %w", err)
		}
		data = b
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %q: %w", path, err)
	}
	return f, nil
}

// Renderer draws a single centered word over a solid background. The font,
// size, canvas and text color are fixed at construction. Render builds its
// own face per call, so one Renderer may be shared by concurrent workers.
type Renderer struct {
	font   *opentype.Font
	size   float64
	canvas image.Point
	text   RGB
}

// NewRenderer validates the face options once so per-frame failures are
// limited to genuine drawing problems.
func NewRenderer(f *opentype.Font, size float64, canvas image.Point, text RGB) (*Renderer, error) {
	if f == nil {
		return nil, Errorf(KindRender, "no font loaded")
	}
	if canvas.X <= 0 || canvas.Y <= 0 {
		return nil, Errorf(KindRender, "invalid canvas %dx%d", canvas.X, canvas.Y)
	}
	r := &Renderer{font: f, size: size, canvas: canvas, text: text}
	face, err := r.newFace()
	if err != nil {
		return nil, err
	}
	face.Close()
	return r, nil
}

// Canvas returns the frame size.
func (r *Renderer) Canvas() image.Point { return r.canvas }

func (r *Renderer) newFace() (font.Face, error) {
	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    r.size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, Errorf(KindRender, "create face (size %.1f): %w", r.size, err)
	}
	return face, nil
}

// layout returns the ink bounds of word relative to its dot, and the dot that
// centers those bounds on the canvas.
func (r *Renderer) layout(face font.Face, word string) (fixed.Rectangle26_6, fixed.Point26_6) {
	bounds, _ := font.BoundString(face, word)
	w := bounds.Max.X - bounds.Min.X
	h := bounds.Max.Y - bounds.Min.Y
	x0 := (fixed.I(r.canvas.X) - w) / 2
	y0 := (fixed.I(r.canvas.Y) - h) / 2
	return bounds, fixed.Point26_6{X: x0 - bounds.Min.X, Y: y0 - bounds.Min.Y}
}

// TextBox returns the canvas rectangle the word's ink occupies, rounded out to
// whole pixels. Empty words yield an empty rectangle.
func (r *Renderer) TextBox(word string) (image.Rectangle, error) {
	if word == "" {
		return image.Rectangle{}, nil
	}
	face, err := r.newFace()
	if err != nil {
		return image.Rectangle{}, err
	}
	defer face.Close()

	bounds, dot := r.layout(face, word)
	return image.Rect(
		(dot.X + bounds.Min.X).Floor(),
		(dot.Y + bounds.Min.Y).Floor(),
		(dot.X + bounds.Max.X).Ceil(),
		(dot.Y + bounds.Max.Y).Ceil(),
	), nil
}

// Render fills the canvas with bg and draws word centered on it. Identical
// inputs always produce identical pixels.
func (r *Renderer) Render(word string, bg RGB) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.canvas.X, r.canvas.Y))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg.RGBA()), image.Point{}, draw.Src)
	if word == "" {
		return img, nil
	}

	face, err := r.newFace()
	if err != nil {
		return nil, err
	}
	defer face.Close()

	_, dot := r.layout(face, word)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(r.text.RGBA()),
		Face: face,
		Dot:  dot,
	}
	d.DrawString(word)
	return img, nil
}
