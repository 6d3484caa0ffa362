package processor

import (
	"path/filepath"

	"captionforge/internal/ffmpeg"
	"captionforge/internal/models"
)

// Plan is the ordered list of ffmpeg invocations that turn an upload into
// the finished clip. Intermediate files live under a per-video work dir.
type Plan struct {
	Commands []ffmpeg.Command
	// Inputs maps each work dir file the commands read to the object key it
	// must be downloaded from before the first command runs.
	Inputs    map[string]string
	Output    string
	Thumbnail string
	// Captions on the output timeline; shifted when Cuts is non-empty.
	Captions []models.Caption
	Cuts     []models.Period
}

// BuildPlan assembles the render pipeline for v: audio extraction, silence
// cuts on fast pace, aspect crop, zoom punches for loud styles and the
// caption pass.
func BuildPlan(b *ffmpeg.Builder, v *models.Video, workDir string) (*Plan, error) {
	dir := filepath.Join(workDir, v.ID.String())
	file := func(name string) string { return filepath.Join(dir, name) }

	aspect := v.AspectRatio
	if aspect == "" {
		aspect = "9:16"
	}
	w, h, err := ffmpeg.AspectSize(aspect)
	if err != nil {
		return nil, err
	}

	var analysis models.AIAnalysis
	if v.Analysis != nil {
		analysis = *v.Analysis
	}
	captions := v.Captions
	peaks := analysis.VolumePeaks

	plan := &Plan{Output: file("final.mp4"), Thumbnail: file("frame.jpg"), Inputs: map[string]string{}}
	src := file("source" + filepath.Ext(v.ObjectKey()))
	plan.Inputs[src] = v.ObjectKey()
	plan.Commands = append(plan.Commands, b.ExtractAudio(src, file("audio.wav")))

	current := src
	var cuts []models.Period
	if v.Style.Pace == models.PaceFast && len(analysis.SilencePeriods) > 0 {
		plan.Commands = append(plan.Commands, b.RemoveSilence(current, file("trimmed.mp4"), analysis.SilencePeriods))
		captions = ShiftCaptions(captions, analysis.SilencePeriods)
		peaks = shiftPeaks(peaks, analysis.SilencePeriods)
		cuts = analysis.SilencePeriods
		current = file("trimmed.mp4")
	}

	resize, err := b.ResizeForAspect(current, file("resized.mp4"), aspect)
	if err != nil {
		return nil, err
	}
	plan.Commands = append(plan.Commands, resize)
	current = file("resized.mp4")

	switch v.Style.Style {
	case models.StyleViral, models.StyleBold:
		plan.Commands = append(plan.Commands, b.ZoomEffect(current, file("zoomed.mp4"), peaks, w, h))
		current = file("zoomed.mp4")
	}

	switch v.Style.Style {
	case models.StyleMinimal, models.StyleElegant:
		plan.Inputs[file("captions.ass")] = SubtitleKey(v)
		plan.Commands = append(plan.Commands, b.BurnSubtitles(current, file("captions.ass"), plan.Output))
	default:
		plan.Commands = append(plan.Commands, b.CaptionOverlay(current, plan.Output, captions, v.Style))
	}

	plan.Captions = captions
	plan.Cuts = cuts

	at := 1.0
	if len(analysis.SceneChanges) > 0 {
		at = analysis.SceneChanges[0] - removedBefore(analysis.SceneChanges[0], cuts)
	}
	plan.Commands = append(plan.Commands, b.ExtractThumbnail(plan.Output, plan.Thumbnail, at))
	return plan, nil
}

// removedBefore is how much of the cut periods lies before t.
func removedBefore(t float64, cuts []models.Period) float64 {
	var d float64
	for _, c := range cuts {
		switch {
		case c.End <= t:
			d += c.End - c.Start
		case c.Start < t:
			d += t - c.Start
		}
	}
	return d
}

// ShiftCaptions moves caption timings onto the timeline left after the
// given periods are cut out. Captions that fall entirely inside a cut are
// dropped.
func ShiftCaptions(captions []models.Caption, cuts []models.Period) []models.Caption {
	if len(cuts) == 0 {
		return captions
	}
	out := make([]models.Caption, 0, len(captions))
	for _, c := range captions {
		start := c.Start - removedBefore(c.Start, cuts)
		end := c.End - removedBefore(c.End, cuts)
		if end <= start {
			continue
		}
		c.Start, c.End = start, end
		out = append(out, c)
	}
	return out
}

func shiftPeaks(peaks []models.VolumePeak, cuts []models.Period) []models.VolumePeak {
	out := make([]models.VolumePeak, len(peaks))
	for i, p := range peaks {
		p.Time -= removedBefore(p.Time, cuts)
		out[i] = p
	}
	return out
}
