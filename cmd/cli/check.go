package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oxomo030/comfyflow/internal/domain"
	"github.com/oxomo030/comfyflow/internal/managers"
	"github.com/oxomo030/comfyflow/internal/workflow"
	"github.com/oxomo030/comfyflow/pkg/comfy"
)

func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate stored configuration and probe the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := LoadConfig()
			if err != nil {
				return err
			}

			if backendURL, _ := cmd.Flags().GetString("backend-url"); backendURL != "" {
				config.BackendURL = backendURL
			}

			out := cmd.OutOrStdout()

			for _, mode := range []domain.GenerationMode{domain.GenerationModeDefault, domain.GenerationModeEdit} {
				path := filepath.Join(config.ConfigDir, string(mode)+".json")

				data, err := os.ReadFile(path)
				if err != nil {
					fmt.Fprintf(out, "%-12s skipped (%v)\n", mode, err)
					continue
				}

				cfg, err := managers.ParseWorkflowConfig(mode, data)
				if err != nil {
					return err
				}

				doc, err := workflow.Parse([]byte(cfg.WorkflowJSON))
				if err != nil {
					return &domain.ConfigError{Mode: mode, Reason: "malformed workflow graph", Err: err}
				}

				for i, rule := range cfg.MappingRules {
					for _, nodeID := range rule.TargetNodeIDs {
						if !doc.Has(nodeID) {
							return &domain.ConfigError{
								Mode:   mode,
								Reason: fmt.Sprintf("mapping rule %d targets unknown node %q", i, nodeID),
							}
						}
					}
				}

				fmt.Fprintf(out, "%-12s ok (%d nodes, %d rules)\n", mode, doc.Len(), len(cfg.MappingRules))
			}

			client := comfy.NewClient(comfy.WithBaseURL(config.BackendURL))

			stats, err := client.SystemStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("backend %s unreachable: %w", config.BackendURL, err)
			}

			fmt.Fprintf(out, "backend      ok (%s, ComfyUI %s)\n", config.BackendURL, stats.System.ComfyUIVersion)

			return nil
		},
	}

	return cmd
}
