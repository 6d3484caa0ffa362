package ffmpeg

import (
	"strings"

	"github.com/alessio/shellescape"
)

// Command is an ffmpeg invocation. It is never executed here; callers
// store or print the rendered string.
type Command struct {
	Bin  string   `json:"bin"`
	Args []string `json:"args"`
}

// String renders the command as a single POSIX shell line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, shellescape.Quote(c.Bin))
	for _, a := range c.Args {
		parts = append(parts, shellescape.Quote(a))
	}
	return strings.Join(parts, " ")
}

// ffmpeg unescapes a -vf value once while splitting the filtergraph and
// again while splitting each filter's key=value options; drawtext text
// is unescaped a third time during % expansion.
var (
	drawtextLevel = strings.NewReplacer(`\`, `\\`, `%`, `\%`)
	optionLevel   = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	graphLevel    = strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`[`, `\[`,
		`]`, `\]`,
		`,`, `\,`,
		`;`, `\;`,
	)
)

// EscapeOptionValue escapes v for use as a filter option value inside a
// filtergraph.
func EscapeOptionValue(v string) string {
	return graphLevel.Replace(optionLevel.Replace(v))
}

// EscapeDrawtext escapes text for use as the drawtext text option.
func EscapeDrawtext(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	return EscapeOptionValue(drawtextLevel.Replace(text))
}

func EscapeFilterPath(p string) string {
	return EscapeOptionValue(p)
}
