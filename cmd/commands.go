package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"captionforge/internal/ffmpeg"
	"captionforge/internal/models"
	"captionforge/internal/processor"
	"captionforge/internal/storage"
)

var (
	planStyle  string
	planPace   string
	planAspect string
	planDir    string
)

var commandsCmd = &cobra.Command{
	Use:   "commands [video-id]",
	Short: "Print the ffmpeg render plan for a stored video or a sample style",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := models.LoadConfig(configPath)
		if err != nil {
			return err
		}

		var v *models.Video
		if len(args) == 1 {
			v, err = loadVideo(cmd.Context(), cfg, args[0])
		} else {
			v, err = sampleVideo()
		}
		if err != nil {
			return err
		}

		b := ffmpeg.NewBuilder(cfg.Render.FFmpegPath, cfg.Render.FontName, cfg.Render.FontSize)
		plan, err := processor.BuildPlan(b, v, planDir)
		if err != nil {
			return err
		}
		for _, c := range plan.Commands {
			fmt.Fprintln(cmd.OutOrStdout(), c.String())
		}
		return nil
	},
}

func init() {
	commandsCmd.Flags().StringVar(&planStyle, "style", string(models.StyleViral), "Caption style for the sample plan")
	commandsCmd.Flags().StringVar(&planPace, "pace", string(models.PaceMedium), "Pace for the sample plan")
	commandsCmd.Flags().StringVar(&planAspect, "aspect", "9:16", "Output aspect ratio for the sample plan")
	commandsCmd.Flags().StringVar(&planDir, "work-dir", "/tmp/captionforge", "Directory the plan reads and writes under")
	rootCmd.AddCommand(commandsCmd)
}

func loadVideo(ctx context.Context, cfg *models.Config, raw string) (*models.Video, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid video id: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("looking up a video needs database_url")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	repo, err := storage.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return repo.GetVideo(ctx, id)
}

func sampleVideo() (*models.Video, error) {
	style := models.DefaultStyle()
	style.Style = models.Style(planStyle)
	style.Pace = models.Pace(planPace)
	if err := style.Validate(); err != nil {
		return nil, err
	}
	return &models.Video{
		ID:          uuid.New(),
		Format:      "video/mp4",
		AspectRatio: planAspect,
		Style:       style,
		Captions: []models.Caption{
			{Text: "Sample caption", Start: 0, End: 1.5, Style: style.Style},
			{Text: "with a highlight", Start: 1.5, End: 3, Highlight: true, Style: style.Style},
		},
		Analysis: &models.AIAnalysis{
			SilencePeriods: []models.Period{{Start: 3, End: 4.2}},
			VolumePeaks:    []models.VolumePeak{{Time: 1.6, Intensity: 0.9}},
			SceneChanges:   []float64{4.2},
		},
	}, nil
}
