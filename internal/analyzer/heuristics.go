package analyzer

import (
	"math"
	"strings"
	"unicode"

	"captionforge/internal/models"
)

const (
	peakExclaim = 0.9
	peakShout   = 0.8
	peakSilence = 0.6
)

// GroupCaptions splits words into consecutive chunks of at most size words.
// Each caption spans from its first word's start to its last word's end.
func GroupCaptions(words []models.Word, size int) []models.Caption {
	if size <= 0 {
		size = 5
	}
	captions := make([]models.Caption, 0, (len(words)+size-1)/size)
	for i := 0; i < len(words); i += size {
		chunk := words[i:min(i+size, len(words))]
		texts := make([]string, len(chunk))
		for j, w := range chunk {
			texts[j] = w.Word
		}
		captions = append(captions, models.Caption{
			Text:  strings.Join(texts, " "),
			Start: chunk[0].Start,
			End:   chunk[len(chunk)-1].End,
		})
	}
	return captions
}

// gap is the pause between two words, rounded to milliseconds so decimal
// timestamps compare exactly against a threshold.
func gap(prev, next models.Word) float64 {
	return math.Round((next.Start-prev.End)*1000) / 1000
}

// DetectSilences reports gaps between consecutive words strictly longer
// than threshold.
func DetectSilences(words []models.Word, threshold float64) []models.Period {
	var periods []models.Period
	for i := 1; i < len(words); i++ {
		if gap(words[i-1], words[i]) > threshold {
			periods = append(periods, models.Period{Start: words[i-1].End, End: words[i].Start})
		}
	}
	return periods
}

// DetectSceneChanges reports the start of each word that follows a gap
// strictly longer than threshold.
func DetectSceneChanges(words []models.Word, threshold float64) []float64 {
	var changes []float64
	for i := 1; i < len(words); i++ {
		if gap(words[i-1], words[i]) > threshold {
			changes = append(changes, words[i].Start)
		}
	}
	return changes
}

// DetectVolumePeaks guesses loud moments from the transcript alone:
// exclamations, shouted words and the first word after a silence.
func DetectVolumePeaks(words []models.Word, silenceThreshold float64) []models.VolumePeak {
	var peaks []models.VolumePeak
	for i, w := range words {
		intensity := 0.0
		text := strings.TrimSpace(w.Word)
		if strings.HasSuffix(text, "!") {
			intensity = max(intensity, peakExclaim)
		}
		if isShouted(text) {
			intensity = max(intensity, peakShout)
		}
		if i > 0 && gap(words[i-1], w) > silenceThreshold {
			intensity = max(intensity, peakSilence)
		}
		if intensity > 0 {
			peaks = append(peaks, models.VolumePeak{Time: w.Start, Intensity: intensity})
		}
	}
	return peaks
}

func isShouted(word string) bool {
	letters := 0
	for _, r := range word {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters >= 2
}

// MarkHighlights flags captions containing any keyword, case-insensitively.
func MarkHighlights(captions []models.Caption, keywords []string, style models.Style) {
	for i := range captions {
		captions[i].Style = style
		captions[i].Highlight = containsKeyword(captions[i].Text, keywords)
	}
}

func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(lower) {
		tokens[strings.TrimFunc(t, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })] = true
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		if tokens[kw] {
			return true
		}
	}
	return false
}

func transcriptText(t *Transcript) string {
	if t.Text != "" {
		return strings.TrimSpace(t.Text)
	}
	texts := make([]string, len(t.Words))
	for i, w := range t.Words {
		texts[i] = w.Word
	}
	return strings.Join(texts, " ")
}
