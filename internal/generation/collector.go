package generation

import (
	"context"
	"fmt"
	"sort"

	"github.com/oxomo030/comfyflow/internal/domain"
	"github.com/oxomo030/comfyflow/pkg/comfy"
)

// ResultCollector extracts output artifacts from the backend's
// execution history and resolves them to retrievable URLs.
type ResultCollector struct {
	client *comfy.Client
}

func NewResultCollector(client *comfy.Client) *ResultCollector {
	return &ResultCollector{client: client}
}

// Collect fetches the history record for a job and returns every
// image artifact it lists, in a stable order. When any artifact is
// output-category, input and temp echoes are dropped. Duplicate URLs
// are collapsed to their first occurrence.
func (c *ResultCollector) Collect(ctx context.Context, promptID string) ([]domain.OutputArtifact, error) {
	history, err := c.client.History(ctx, promptID)
	if err != nil {
		return nil, err
	}

	entry, ok := history[promptID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrHistoryNotFound, promptID)
	}

	// History node order is a JSON object; sort ids so results are
	// deterministic across runs.
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for nodeID := range entry.Outputs {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	var collected []domain.OutputArtifact
	hasOutput := false

	for _, nodeID := range nodeIDs {
		for _, image := range entry.Outputs[nodeID].Images {
			category := domain.ArtifactCategory(image.Type)
			if category == domain.ArtifactCategoryOutput {
				hasOutput = true
			}

			collected = append(collected, domain.OutputArtifact{
				NodeID:    nodeID,
				Filename:  image.Filename,
				Subfolder: image.Subfolder,
				Category:  category,
				URL:       c.client.ViewURL(image.Filename, image.Subfolder, image.Type),
			})
		}
	}

	return dedupe(filterOutputs(collected, hasOutput)), nil
}

// filterOutputs keeps only output-category artifacts when at least one
// exists; otherwise everything collected is returned uncategorized.
func filterOutputs(artifacts []domain.OutputArtifact, hasOutput bool) []domain.OutputArtifact {
	if !hasOutput {
		return artifacts
	}

	filtered := artifacts[:0]
	for _, artifact := range artifacts {
		if artifact.Category == domain.ArtifactCategoryOutput {
			filtered = append(filtered, artifact)
		}
	}

	return filtered
}

// dedupe collapses artifacts sharing a resolved URL, keeping
// first-seen order.
func dedupe(artifacts []domain.OutputArtifact) []domain.OutputArtifact {
	seen := make(map[string]struct{}, len(artifacts))
	unique := artifacts[:0]

	for _, artifact := range artifacts {
		if _, ok := seen[artifact.URL]; ok {
			continue
		}

		seen[artifact.URL] = struct{}{}
		unique = append(unique, artifact)
	}

	return unique
}
