package domain

import "fmt"

// MappingKind identifies which request parameter a rule binds to a set
// of workflow nodes. The set is closed; AllMappingKinds and
// (MappingKind).Valid must be kept in sync when a kind is added.
type MappingKind string

const (
	MappingKindPrompt         MappingKind = "prompt"
	MappingKindNegativePrompt MappingKind = "negative_prompt"
	MappingKindModel          MappingKind = "model"
	MappingKindWidth          MappingKind = "width"
	MappingKindHeight         MappingKind = "height"
	MappingKindSteps          MappingKind = "steps"
	MappingKindSeed           MappingKind = "seed"
	MappingKindBatchCount     MappingKind = "batch_count"
	MappingKindImage          MappingKind = "image"
	MappingKindCustom         MappingKind = "custom"
)

var AllMappingKinds = []MappingKind{
	MappingKindPrompt,
	MappingKindNegativePrompt,
	MappingKindModel,
	MappingKindWidth,
	MappingKindHeight,
	MappingKindSteps,
	MappingKindSeed,
	MappingKindBatchCount,
	MappingKindImage,
	MappingKindCustom,
}

func (k MappingKind) Valid() bool {
	switch k {
	case MappingKindPrompt, MappingKindNegativePrompt, MappingKindModel,
		MappingKindWidth, MappingKindHeight, MappingKindSteps,
		MappingKindSeed, MappingKindBatchCount, MappingKindImage,
		MappingKindCustom:
		return true
	}
	return false
}

// DefaultField returns the node input field a kind writes to when the
// rule does not name one explicitly. The model kind targets a
// checkpoint loader in generation graphs and a unet loader in edit
// graphs, so its default depends on the mode.
func (k MappingKind) DefaultField(mode GenerationMode) string {
	switch k {
	case MappingKindPrompt, MappingKindNegativePrompt:
		return "text"
	case MappingKindModel:
		if mode == GenerationModeEdit {
			return "unet_name"
		}
		return "ckpt_name"
	case MappingKindWidth:
		return "width"
	case MappingKindHeight:
		return "height"
	case MappingKindSteps:
		return "steps"
	case MappingKindSeed:
		return "seed"
	case MappingKindBatchCount:
		return "batch_size"
	case MappingKindImage:
		return "image"
	}
	return ""
}

// MappingRule binds one request parameter to one or more node fields.
// Rules are persisted configuration, read-only at request time, and
// shared across concurrent requests.
type MappingRule struct {
	Kind          MappingKind `json:"kind"`
	FieldName     string      `json:"field_name,omitempty"`
	TargetNodeIDs []string    `json:"target_node_ids"`
	FixedValue    any         `json:"fixed_value,omitempty"`
}

// EffectiveField resolves the node input field this rule writes to.
func (r MappingRule) EffectiveField(mode GenerationMode) string {
	if r.FieldName != "" {
		return r.FieldName
	}
	return r.Kind.DefaultField(mode)
}

func (r MappingRule) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown mapping kind %q", r.Kind)
	}
	if r.Kind == MappingKindCustom && r.FieldName == "" {
		return fmt.Errorf("custom mapping requires a field name")
	}
	return nil
}

// WorkflowConfig is one persisted workflow+mapping configuration,
// loaded per mode by the orchestrator.
type WorkflowConfig struct {
	WorkflowJSON string        `json:"workflow_json"`
	MappingRules []MappingRule `json:"mapping_rules"`
}
