package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are a short-form video strategist. You read transcripts and judge how likely a clip is to go viral. Respond with a single JSON object and nothing else.`

const defaultViralityPrompt = `Analyze this transcript of a {{.Style}} style, {{.Pace}} paced vertical video.

Transcript:
"""
{{.Transcript}}
"""

Return JSON with these fields:
- "viralityScore": number between 0 and 1
- "emotionPeaks": array of {"time": seconds, "emotion": string, "intensity": 0-1}
- "keywords": up to {{.MaxKeywords}} single words worth emphasizing
- "topics": array of strings
- "suggestedTitle": string under 80 characters
- "suggestedDescription": string
- "hashtags": array of strings without '#'
- "callsToAction": array of strings`

type Prompts struct {
	System   string `yaml:"system"`
	Virality string `yaml:"virality"`
}

type ViralityParams struct {
	Transcript  string
	Style       string
	Pace        string
	MaxKeywords int
}

func DefaultPrompts() *Prompts {
	return &Prompts{System: defaultSystemPrompt, Virality: defaultViralityPrompt}
}

// LoadPrompts reads prompt templates from path. A missing file or blank
// entries fall back to the built-in prompts.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var loaded Prompts
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	if loaded.System != "" {
		p.System = loaded.System
	}
	if loaded.Virality != "" {
		p.Virality = loaded.Virality
	}
	return p, nil
}

func (p *Prompts) RenderVirality(params ViralityParams) (string, error) {
	if params.MaxKeywords == 0 {
		params.MaxKeywords = 8
	}
	return render(p.Virality, params)
}

func render(tmpl string, data any) (string, error) {
	t, err := template.New("prompt").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}
