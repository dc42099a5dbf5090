// Package mapping applies persisted mapping rules to a parsed workflow
// document, injecting one request's parameter values into the node
// fields the rules name.
package mapping

import (
	"fmt"
	"math/rand/v2"

	"github.com/oxomo030/comfyflow/internal/domain"
	"github.com/oxomo030/comfyflow/internal/workflow"
)

// maxGeneratedSeed bounds seeds drawn when the caller leaves the seed
// unset. Matches the backend's accepted seed range.
const maxGeneratedSeed = int64(1) << 50

// Apply mutates doc in place, one rule at a time in list order. When
// two rules touch the same field the last applied wins. Scalar kinds
// broadcast one resolved value to every target node; the image kind
// distributes positionally when more than one image is present. An
// empty target list is a no-op so configurations may carry disabled
// rules.
func Apply(doc *workflow.Document, rules []domain.MappingRule, params domain.GenerationParameters, mode domain.GenerationMode) error {
	// One draw per request: every seed target shares the same value
	// even when several rules or nodes consume it.
	seed := resolveSeed(params.Seed)

	for i, rule := range rules {
		if len(rule.TargetNodeIDs) == 0 {
			continue
		}

		if nodeID, err := applyRule(doc, rule, params, mode, seed); err != nil {
			return &domain.MappingError{
				RuleIndex: i,
				NodeID:    nodeID,
				Reason:    fmt.Sprintf("applying %s mapping", rule.Kind),
				Err:       err,
			}
		}
	}

	return nil
}

func applyRule(doc *workflow.Document, rule domain.MappingRule, params domain.GenerationParameters, mode domain.GenerationMode, seed int64) (string, error) {
	field := rule.EffectiveField(mode)

	switch rule.Kind {
	case domain.MappingKindCustom:
		return broadcast(doc, rule.TargetNodeIDs, field, rule.FixedValue)
	case domain.MappingKindPrompt:
		return broadcast(doc, rule.TargetNodeIDs, field, params.Prompt)
	case domain.MappingKindNegativePrompt:
		return broadcast(doc, rule.TargetNodeIDs, field, params.NegativePrompt)
	case domain.MappingKindModel:
		return broadcast(doc, rule.TargetNodeIDs, field, params.Model)
	case domain.MappingKindWidth:
		return broadcast(doc, rule.TargetNodeIDs, field, params.Width)
	case domain.MappingKindHeight:
		return broadcast(doc, rule.TargetNodeIDs, field, params.Height)
	case domain.MappingKindSteps:
		return broadcast(doc, rule.TargetNodeIDs, field, params.Steps)
	case domain.MappingKindBatchCount:
		return broadcast(doc, rule.TargetNodeIDs, field, params.BatchCount)
	case domain.MappingKindSeed:
		return broadcast(doc, rule.TargetNodeIDs, field, seed)
	case domain.MappingKindImage:
		return distributeImages(doc, rule.TargetNodeIDs, field, params.Images)
	}

	return "", fmt.Errorf("unknown mapping kind %q", rule.Kind)
}

// broadcast writes the same value to the field on every target node.
// Returns the offending node id on failure.
func broadcast(doc *workflow.Document, nodeIDs []string, field string, value any) (string, error) {
	for _, nodeID := range nodeIDs {
		if err := doc.SetInput(nodeID, field, value); err != nil {
			return nodeID, err
		}
	}

	return "", nil
}

// distributeImages applies the image policy: a single image is
// broadcast to all targets, several images are assigned positionally.
// Targets beyond the image list are left untouched and surplus images
// are dropped; neither is an error.
func distributeImages(doc *workflow.Document, nodeIDs []string, field string, images []string) (string, error) {
	switch {
	case len(images) == 0:
		return "", nil
	case len(images) == 1:
		return broadcast(doc, nodeIDs, field, images[0])
	}

	for i, nodeID := range nodeIDs {
		if i >= len(images) {
			break
		}

		if err := doc.SetInput(nodeID, field, images[i]); err != nil {
			return nodeID, err
		}
	}

	return "", nil
}

func resolveSeed(explicit *int64) int64 {
	if explicit != nil {
		return *explicit
	}

	return rand.Int64N(maxGeneratedSeed + 1)
}
