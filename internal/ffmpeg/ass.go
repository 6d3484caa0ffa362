package ffmpeg

import (
	"fmt"
	"math"
	"strings"

	"captionforge/internal/models"
)

type ASSOptions struct {
	FontName string
	FontSize int
	Width    int
	Height   int
	Style    models.StyleConfig
}

// ASSDocument renders captions as an Advanced SubStation Alpha script with
// a Default style and a Highlight style using the accent color.
func ASSDocument(captions []models.Caption, opts ASSOptions) string {
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = 1080, 1920
	}
	if opts.FontSize == 0 {
		opts.FontSize = 96
	}
	if opts.FontName == "" {
		opts.FontName = "Arial"
	}

	var sb strings.Builder
	sb.WriteString("[Script Info]\n")
	sb.WriteString("Title: Captions\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", opts.Width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", opts.Height)
	sb.WriteString("\n")

	bold := 0
	if opts.Style.Style == models.StyleBold || opts.Style.Style == models.StyleViral {
		bold = -1
	}
	outline := toASSColor("#000000")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	for _, st := range []struct{ name, color string }{
		{"Default", opts.Style.Primary()},
		{"Highlight", opts.Style.Accent()},
	} {
		fmt.Fprintf(&sb, "Style: %s,%s,%d,%s,%s,%s,&H80000000,%d,0,0,0,100,100,0,0,1,4,2,2,10,10,%d,1\n",
			st.name, opts.FontName, opts.FontSize, toASSColor(st.color), toASSColor(opts.Style.Secondary()), outline, bold, opts.Height/5)
	}
	sb.WriteString("\n")

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, c := range captions {
		style := "Default"
		if c.Highlight {
			style = "Highlight"
		}
		fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,%s,,0,0,0,,%s\n",
			formatASSTime(c.Start), formatASSTime(c.End), style, assText(c.Text))
	}
	return sb.String()
}

func assText(s string) string {
	return strings.NewReplacer("{", "(", "}", ")", "\r", "", "\n", `\N`).Replace(s)
}

// toASSColor converts #RRGGBB to ASS's &H00BBGGRR.
func toASSColor(color string) string {
	if strings.HasPrefix(color, "&H") {
		return color
	}
	c := strings.ToUpper(strings.TrimPrefix(color, "#"))
	if len(c) != 6 {
		return "&H00FFFFFF"
	}
	return fmt.Sprintf("&H00%s%s%s", c[4:6], c[2:4], c[0:2])
}

func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	cs := int(math.Round(seconds * 100))
	hours := cs / 360000
	minutes := (cs % 360000) / 6000
	secs := (cs % 6000) / 100
	centis := cs % 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centis)
}
