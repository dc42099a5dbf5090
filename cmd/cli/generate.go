package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oxomo030/comfyflow/internal/domain"
)

func NewGenerateCommand() *cobra.Command {
	var (
		prompt         string
		negativePrompt string
		model          string
		width          int
		height         int
		steps          int
		seed           int64
		batchCount     int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate images from the stored generation workflow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			orchestrator, _, err := buildOrchestrator(cmd)
			if err != nil {
				return err
			}

			req := domain.GenerationRequest{
				Prompt:         prompt,
				NegativePrompt: negativePrompt,
				Model:          model,
				Width:          width,
				Height:         height,
				Steps:          steps,
				BatchCount:     batchCount,
			}

			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			artifacts, err := orchestrator.Generate(ctx, req)
			if err != nil {
				return err
			}

			for _, artifact := range artifacts {
				fmt.Fprintln(cmd.OutOrStdout(), artifact.URL)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text")
	cmd.Flags().StringVar(&negativePrompt, "negative-prompt", "", "Negative prompt text")
	cmd.Flags().StringVar(&model, "model", "", "Model name")
	cmd.Flags().IntVar(&width, "width", 512, "Image width")
	cmd.Flags().IntVar(&height, "height", 512, "Image height")
	cmd.Flags().IntVar(&steps, "steps", 20, "Sampling steps")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed (random when omitted)")
	cmd.Flags().IntVar(&batchCount, "batch-count", 1, "Number of images per batch")

	cmd.MarkFlagRequired("prompt")
	cmd.MarkFlagRequired("model")

	return cmd
}
