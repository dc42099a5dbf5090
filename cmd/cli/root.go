package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oxomo030/comfyflow/internal/generation"
	"github.com/oxomo030/comfyflow/internal/managers"
	"github.com/oxomo030/comfyflow/pkg/comfy"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "comfyflow",
		Short: "ComfyFlow generation client",
		Long: `ComfyFlow drives a ComfyUI generation backend from declarative
workflow and mapping configuration, producing or editing images on demand.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("backend-url", "", "Override backend URL")

	rootCmd.AddCommand(NewGenerateCommand())
	rootCmd.AddCommand(NewEditCommand())
	rootCmd.AddCommand(NewCheckCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildOrchestrator wires the orchestrator from process configuration
// plus command-line overrides.
func buildOrchestrator(cmd *cobra.Command) (*generation.Orchestrator, *Config, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	if backendURL, _ := cmd.Flags().GetString("backend-url"); backendURL != "" {
		config.BackendURL = backendURL
	}

	client := comfy.NewClient(
		comfy.WithBaseURL(config.BackendURL),
		comfy.WithTimeout(config.RequestTimeout),
		comfy.WithWaitTimeout(config.WaitTimeout),
	)

	orchestrator := generation.NewOrchestrator(generation.OrchestratorDependencies{
		Client:        client,
		ConfigStore:   managers.NewFileConfigStore(config.ConfigDir),
		ImageStore:    managers.NewDirectoryImageStore(config.ImageDir),
		UploadRetries: config.UploadRetries,
	})

	return orchestrator, config, nil
}
