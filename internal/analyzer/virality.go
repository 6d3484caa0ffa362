package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conneroisu/groq-go"

	"captionforge/internal/models"
)

type Virality struct {
	ViralityScore        float64              `json:"viralityScore"`
	EmotionPeaks         []models.EmotionPeak `json:"emotionPeaks"`
	Keywords             []string             `json:"keywords"`
	Topics               []string             `json:"topics"`
	SuggestedTitle       string               `json:"suggestedTitle"`
	SuggestedDescription string               `json:"suggestedDescription"`
	Hashtags             []string             `json:"hashtags"`
	CallsToAction        []string             `json:"callsToAction"`
}

type GroqClient struct {
	client  *groq.Client
	model   groq.ChatModel
	prompts *Prompts
}

func NewGroqClient(apiKey, baseURL, model string, p *Prompts) (*GroqClient, error) {
	var (
		client *groq.Client
		err    error
	)
	if baseURL != "" {
		client, err = groq.NewClient(apiKey, groq.WithBaseURL(baseURL))
	} else {
		client, err = groq.NewClient(apiKey)
	}
	if err != nil {
		return nil, fmt.Errorf("create groq client: %w", err)
	}
	if p == nil {
		p = DefaultPrompts()
	}
	return &GroqClient{client: client, model: groq.ChatModel(model), prompts: p}, nil
}

func (c *GroqClient) AnalyzeVirality(ctx context.Context, transcript string, style models.StyleConfig) (*Virality, error) {
	v, err := c.analyze(ctx, transcript, style)
	if err != nil {
		return nil, fmt.Errorf("virality analysis failed: %w", err)
	}
	return v, nil
}

func (c *GroqClient) analyze(ctx context.Context, transcript string, style models.StyleConfig) (*Virality, error) {
	prompt, err := c.prompts.RenderVirality(ViralityParams{
		Transcript: transcript,
		Style:      string(style.Style),
		Pace:       string(style.Pace),
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	req := groq.ChatCompletionRequest{
		Model: c.model,
		Messages: []groq.ChatCompletionMessage{
			{Role: groq.RoleSystem, Content: c.prompts.System},
			{Role: groq.RoleUser, Content: prompt},
		},
		ResponseFormat: &groq.ChatResponseFormat{Type: "json_object"},
	}

	resp, err := c.client.ChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	return parseVirality(content)
}

func parseVirality(content string) (*Virality, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var v Virality
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	v.ViralityScore = clamp01(v.ViralityScore)
	for i := range v.EmotionPeaks {
		v.EmotionPeaks[i].Intensity = clamp01(v.EmotionPeaks[i].Intensity)
	}
	v.Hashtags = cleanTags(v.Hashtags)
	v.Keywords = cleanKeywords(v.Keywords)
	return &v, nil
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}

func cleanTags(tags []string) []string {
	result := make([]string, 0, len(tags))
	seen := make(map[string]bool)
	for _, tag := range tags {
		tag = strings.ToLower(strings.Trim(strings.TrimSpace(tag), "#"))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		result = append(result, tag)
	}
	return result
}

func cleanKeywords(keywords []string) []string {
	result := make([]string, 0, len(keywords))
	seen := make(map[string]bool)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		key := strings.ToLower(kw)
		if kw == "" || seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, kw)
	}
	return result
}
