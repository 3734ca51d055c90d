package viewport

import (
	"image"
	"image/color"
	"io"
	"strings"

	"github.com/fogleman/gg"
)

// Sink receives what a layer draws.
type Sink interface {
	// DrawImage copies the w by h block at (srcX, srcY) of img to (dstX, dstY).
	DrawImage(img image.Image, srcX, srcY, dstX, dstY, w, h int)
	DrawLine(x1, y1, x2, y2 int)
	AddCopyright(s string)
	AddLogo(img image.Image)
	// Status shows a transient hint to the user.
	Status(msg string)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// RasterSink draws into an in-memory RGBA canvas.
type RasterSink struct {
	dc         *gg.Context
	copyrights []string
	logos      []image.Image
	status     []string
}

var _ Sink = (*RasterSink)(nil)

func NewRasterSink(width, height int) *RasterSink {
	dc := gg.NewContext(width, height)
	dc.SetColor(color.Transparent)
	dc.Clear()
	return &RasterSink{dc: dc}
}

func (s *RasterSink) DrawImage(img image.Image, srcX, srcY, dstX, dstY, w, h int) {
	b := img.Bounds()
	r := image.Rect(b.Min.X+srcX, b.Min.Y+srcY, b.Min.X+srcX+w, b.Min.Y+srcY+h).Intersect(b)
	if r.Empty() {
		return
	}
	part := img
	if si, ok := img.(subImager); ok && r != b {
		part = si.SubImage(r)
	}
	// gg translates source coordinates, so the origin is where img's
	// (srcX, srcY) corner would land
	s.dc.DrawImage(part, dstX-b.Min.X-srcX, dstY-b.Min.Y-srcY)
}

func (s *RasterSink) DrawLine(x1, y1, x2, y2 int) {
	s.dc.SetRGBA(0, 0, 0, 0.5)
	s.dc.SetLineWidth(1)
	s.dc.DrawLine(float64(x1), float64(y1), float64(x2), float64(y2))
	s.dc.Stroke()
}

func (s *RasterSink) AddCopyright(c string) {
	for _, have := range s.copyrights {
		if have == c {
			return
		}
	}
	s.copyrights = append(s.copyrights, c)
}

func (s *RasterSink) AddLogo(img image.Image) {
	for _, have := range s.logos {
		if have == img {
			return
		}
	}
	s.logos = append(s.logos, img)
}

func (s *RasterSink) Status(msg string) {
	s.status = append(s.status, msg)
}

func (s *RasterSink) Copyrights() []string { return s.copyrights }

func (s *RasterSink) Statuses() []string { return s.status }

// Finish stamps the attributions and logos onto the canvas and returns it.
func (s *RasterSink) Finish() image.Image {
	w, h := float64(s.dc.Width()), float64(s.dc.Height())
	if len(s.copyrights) > 0 {
		text := strings.Join(s.copyrights, " ")
		tw, th := s.dc.MeasureString(text)
		s.dc.SetRGBA(1, 1, 1, 0.6)
		s.dc.DrawRectangle(w-tw-6, h-th-6, tw+6, th+6)
		s.dc.Fill()
		s.dc.SetRGB(0, 0, 0)
		s.dc.DrawStringAnchored(text, w-3, h-3, 1, 0)
	}

	x := 2
	for _, logo := range s.logos {
		lb := logo.Bounds()
		s.dc.DrawImage(logo, x-lb.Min.X, int(h)-lb.Dy()-20-lb.Min.Y)
		x += lb.Dx() + 2
	}
	return s.dc.Image()
}

func (s *RasterSink) EncodePNG(w io.Writer) error {
	s.Finish()
	return s.dc.EncodePNG(w)
}
