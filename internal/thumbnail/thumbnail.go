package thumbnail

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/math/fixed"

	"captionforge/internal/models"
)

const (
	DefaultWidth  = 720
	DefaultHeight = 1280
	margin        = 48
	lineSpacing   = 1.25
	maxLines      = 4
)

type Options struct {
	Width  int
	Height int
	Title  string
	Style  models.StyleConfig
}

type Renderer struct {
	font *truetype.Font
}

func NewRenderer() (*Renderer, error) {
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("thumbnail.NewRenderer: %w", err)
	}
	return &Renderer{font: f}, nil
}

// Render draws a cover card and returns it.
func (r *Renderer) Render(opts Options) (image.Image, error) {
	const op = "thumbnail.Render"

	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}

	canvas := imaging.New(opts.Width, opts.Height, parseHex(opts.Style.Accent(), color.Black))

	bandHeight := opts.Height / 3
	band := imaging.New(opts.Width, bandHeight, withAlpha(parseHex(opts.Style.Secondary(), color.White), 200))
	canvas = imaging.Overlay(canvas, band, image.Pt(0, (opts.Height-bandHeight)/2), 0.85)

	if err := r.drawTitle(canvas, opts, bandHeight); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return canvas, nil
}

func (r *Renderer) drawTitle(dst *image.NRGBA, opts Options, bandHeight int) error {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return nil
	}
	if opts.Style.Style == models.StyleViral || opts.Style.Style == models.StyleBold {
		title = strings.ToUpper(title)
	}

	size := float64(opts.Width) / 10
	var lines []string
	for ; size > 12; size *= 0.85 {
		lines = r.wrap(title, size, opts.Width-2*margin)
		if len(lines) <= maxLines && float64(len(lines))*size*lineSpacing <= float64(bandHeight) {
			break
		}
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}

	face := truetype.NewFace(r.font, &truetype.Options{Size: size})
	defer face.Close()

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(r.font)
	c.SetFontSize(size)
	c.SetClip(dst.Bounds())
	c.SetDst(dst)
	c.SetHinting(font.HintingFull)

	blockHeight := float64(len(lines)) * size * lineSpacing
	y := (float64(opts.Height)-blockHeight)/2 + size
	shadow := image.NewUniform(color.RGBA{0, 0, 0, 180})
	fill := image.NewUniform(parseHex(opts.Style.Primary(), color.White))

	for _, line := range lines {
		w := font.MeasureString(face, line).Ceil()
		x := (opts.Width - w) / 2

		c.SetSrc(shadow)
		if _, err := c.DrawString(line, freetype.Pt(x+3, int(y)+3)); err != nil {
			return err
		}
		c.SetSrc(fill)
		if _, err := c.DrawString(line, freetype.Pt(x, int(y))); err != nil {
			return err
		}
		y += size * lineSpacing
	}
	return nil
}

// wrap greedily breaks text into lines no wider than maxWidth pixels.
func (r *Renderer) wrap(text string, size float64, maxWidth int) []string {
	face := truetype.NewFace(r.font, &truetype.Options{Size: size})
	defer face.Close()

	limit := fixed.I(maxWidth)
	var lines []string
	current := ""
	for _, word := range strings.Fields(text) {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if current != "" && font.MeasureString(face, candidate) > limit {
			lines = append(lines, current)
			current = word
			continue
		}
		current = candidate
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

// RenderPNG renders and encodes the card as PNG.
func (r *Renderer) RenderPNG(w io.Writer, opts Options) error {
	img, err := r.Render(opts)
	if err != nil {
		return err
	}
	return imaging.Encode(w, img, imaging.PNG)
}

func parseHex(hex string, fallback color.Color) color.Color {
	h := strings.TrimPrefix(hex, "#")
	if len(h) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return fallback
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

func withAlpha(c color.Color, a uint8) color.NRGBA {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = a
	return n
}
