package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oxomo030/comfyflow/internal/domain"
)

func NewEditCommand() *cobra.Command {
	var (
		images []string
		prompt string
		model  string
		width  int
		height int
	)

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit images with the stored edit workflow",
		Long: `Edit runs the stored edit workflow against one or more input images.
Each --image value may be an http(s) URL, a store reference (store:<id>),
or a local file path.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orchestrator, _, err := buildOrchestrator(cmd)
			if err != nil {
				return err
			}

			refs := make([]domain.ImageRef, 0, len(images))
			for _, image := range images {
				ref, err := parseImageArg(image)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}

			req := domain.EditRequest{
				Images: refs,
				Prompt: prompt,
				Model:  model,
				Width:  width,
				Height: height,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			artifacts, err := orchestrator.Edit(ctx, req)
			if err != nil {
				return err
			}

			for _, artifact := range artifacts {
				fmt.Fprintln(cmd.OutOrStdout(), artifact.URL)
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&images, "image", nil, "Input image (URL, store:<id>, or file path); repeatable")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Edit instruction prompt")
	cmd.Flags().StringVar(&model, "model", "", "Model name")
	cmd.Flags().IntVar(&width, "width", 0, "Output width (workflow default when omitted)")
	cmd.Flags().IntVar(&height, "height", 0, "Output height (workflow default when omitted)")

	cmd.MarkFlagRequired("image")
	cmd.MarkFlagRequired("prompt")
	cmd.MarkFlagRequired("model")

	return cmd
}

func parseImageArg(arg string) (domain.ImageRef, error) {
	switch {
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
		return domain.ImageRef{URL: arg}, nil
	case strings.HasPrefix(arg, "store:"):
		return domain.ImageRef{FileID: strings.TrimPrefix(arg, "store:")}, nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("reading image %q: %w", arg, err)
	}

	return domain.ImageRef{Data: data}, nil
}
