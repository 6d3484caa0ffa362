package ffmpeg

import (
	"errors"
	"fmt"
	"strings"

	"captionforge/internal/models"
)

var ErrUnsupportedAspect = errors.New("unsupported aspect ratio")

type Builder struct {
	Bin      string
	FontName string
	FontSize int
}

func NewBuilder(bin, fontName string, fontSize int) *Builder {
	if bin == "" {
		bin = "ffmpeg"
	}
	if fontSize <= 0 {
		fontSize = 96
	}
	return &Builder{Bin: bin, FontName: fontName, FontSize: fontSize}
}

func (b *Builder) cmd(args ...string) Command {
	return Command{Bin: b.Bin, Args: append([]string{"-y"}, args...)}
}

func secs(t float64) string {
	return fmt.Sprintf("%.2f", t)
}

func between(v string, start, end float64) string {
	return fmt.Sprintf("between(%s,%s,%s)", v, secs(start), secs(end))
}

// hexToFF turns #RRGGBB into ffmpeg's 0xRRGGBB color syntax.
func hexToFF(color string) string {
	c := strings.TrimPrefix(color, "#")
	if len(c) != 6 {
		return "white"
	}
	return "0x" + strings.ToUpper(c)
}

type textLook struct {
	size      int
	border    int
	box       bool
	upper     bool
	yPosition string
}

func lookFor(style models.Style, base int) textLook {
	switch style {
	case models.StyleMinimal:
		return textLook{size: base * 3 / 4, border: 0, yPosition: "h*0.85"}
	case models.StyleBold:
		return textLook{size: base, border: 8, box: true, upper: true, yPosition: "h*0.70"}
	case models.StyleElegant:
		return textLook{size: base * 4 / 5, border: 2, yPosition: "h*0.80"}
	default:
		return textLook{size: base, border: 6, upper: true, yPosition: "h*0.70"}
	}
}

// CaptionOverlay burns each caption in with its own drawtext filter,
// enabled only during the caption's time range.
func (b *Builder) CaptionOverlay(in, out string, captions []models.Caption, style models.StyleConfig) Command {
	if len(captions) == 0 {
		return b.cmd("-i", in, "-c", "copy", out)
	}

	look := lookFor(style.Style, b.FontSize)
	filters := make([]string, 0, len(captions))
	for _, c := range captions {
		text := c.Text
		if look.upper {
			text = strings.ToUpper(text)
		}
		color := style.Primary()
		if c.Highlight {
			color = style.Accent()
		}

		opts := []string{
			"text=" + EscapeDrawtext(text),
			fmt.Sprintf("fontsize=%d", look.size),
			"fontcolor=" + hexToFF(color),
			"x=(w-text_w)/2",
			"y=" + look.yPosition,
		}
		if b.FontName != "" {
			opts = append(opts, "font="+EscapeOptionValue(b.FontName))
		}
		if look.border > 0 {
			opts = append(opts, fmt.Sprintf("borderw=%d", look.border), "bordercolor=black")
		}
		if look.box {
			opts = append(opts, "box=1", "boxcolor="+hexToFF(style.Secondary())+"@0.6", "boxborderw=12")
		}
		opts = append(opts, "enable='"+between("t", c.Start, c.End)+"'")

		filters = append(filters, "drawtext="+strings.Join(opts, ":"))
	}

	return b.cmd("-i", in, "-vf", strings.Join(filters, ","), "-c:a", "copy", out)
}

func (b *Builder) BurnSubtitles(in, assPath, out string) Command {
	return b.cmd("-i", in, "-vf", "subtitles="+EscapeFilterPath(assPath), "-c:a", "copy", out)
}

// ZoomEffect punches in briefly at each volume peak, scaled by its intensity.
func (b *Builder) ZoomEffect(in, out string, peaks []models.VolumePeak, width, height int) Command {
	size := fmt.Sprintf("%dx%d", width, height)
	if len(peaks) == 0 {
		return b.cmd("-i", in, "-vf", fmt.Sprintf("scale=%d:%d", width, height), "-c:a", "copy", out)
	}

	terms := make([]string, 0, len(peaks)+1)
	terms = append(terms, "1")
	for _, p := range peaks {
		terms = append(terms, fmt.Sprintf("%.2f*%s", 0.2*p.Intensity, between("in_time", p.Time, p.Time+0.4)))
	}
	zoom := strings.Join(terms, "+")

	filter := fmt.Sprintf(
		"zoompan=z='%s':d=1:x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':s=%s:fps=30",
		zoom, size,
	)
	return b.cmd("-i", in, "-vf", filter, "-c:a", "copy", out)
}

// RemoveSilence drops the given periods from both streams.
func (b *Builder) RemoveSilence(in, out string, periods []models.Period) Command {
	if len(periods) == 0 {
		return b.cmd("-i", in, "-c", "copy", out)
	}

	ranges := make([]string, 0, len(periods))
	for _, p := range periods {
		ranges = append(ranges, between("t", p.Start, p.End))
	}
	keep := "not(" + strings.Join(ranges, "+") + ")"

	return b.cmd(
		"-i", in,
		"-vf", "select='"+keep+"',setpts=N/FRAME_RATE/TB",
		"-af", "aselect='"+keep+"',asetpts=N/SR/TB",
		out,
	)
}

var aspectSizes = map[string][2]int{
	"9:16": {1080, 1920},
	"1:1":  {1080, 1080},
	"16:9": {1920, 1080},
	"4:5":  {1080, 1350},
}

func AspectSize(aspect string) (int, int, error) {
	s, ok := aspectSizes[aspect]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedAspect, aspect)
	}
	return s[0], s[1], nil
}

func (b *Builder) ResizeForAspect(in, out, aspect string) (Command, error) {
	w, h, err := AspectSize(aspect)
	if err != nil {
		return Command{}, err
	}
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", w, h, w, h)
	return b.cmd("-i", in, "-vf", filter, "-c:a", "copy", out), nil
}

func (b *Builder) ExtractThumbnail(in, out string, at float64) Command {
	return b.cmd("-ss", secs(at), "-i", in, "-frames:v", "1", "-q:v", "2", out)
}

// ExtractAudio produces 16 kHz mono PCM, the format speech models expect.
func (b *Builder) ExtractAudio(in, out string) Command {
	return b.cmd("-i", in, "-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", out)
}
