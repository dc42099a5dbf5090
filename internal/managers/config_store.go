package managers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/oxomo030/comfyflow/internal/domain"
)

// configSchema validates stored workflow+mapping configuration files
// before any of their content is used.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["workflow_json", "mapping_rules"],
  "properties": {
    "workflow_json": {"type": "string", "minLength": 2},
    "mapping_rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "target_node_ids"],
        "properties": {
          "kind": {
            "enum": [
              "prompt", "negative_prompt", "model", "width", "height",
              "steps", "seed", "batch_count", "image", "custom"
            ]
          },
          "field_name": {"type": "string"},
          "target_node_ids": {
            "type": "array",
            "items": {"type": "string"}
          },
          "fixed_value": {}
        }
      }
    }
  }
}`

var compiledConfigSchema = jsonschema.MustCompileString("workflow_config.schema.json", configSchema)

// FileConfigStore loads workflow+mapping configuration from one JSON
// file per mode under a directory (generation.json, edit.json). Each
// load returns a fresh snapshot, so request-path code never observes a
// mid-update configuration.
type FileConfigStore struct {
	dir string
}

func NewFileConfigStore(dir string) *FileConfigStore {
	return &FileConfigStore{dir: dir}
}

func (s *FileConfigStore) GetWorkflowConfig(_ context.Context, mode domain.GenerationMode) (domain.WorkflowConfig, error) {
	path := filepath.Join(s.dir, string(mode)+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.WorkflowConfig{}, &domain.ConfigError{Mode: mode, Reason: "reading configuration file", Err: err}
	}

	return ParseWorkflowConfig(mode, data)
}

// ParseWorkflowConfig validates and decodes one stored configuration
// document.
func ParseWorkflowConfig(mode domain.GenerationMode, data []byte) (domain.WorkflowConfig, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.WorkflowConfig{}, &domain.ConfigError{Mode: mode, Reason: "malformed configuration JSON", Err: err}
	}

	if err := compiledConfigSchema.Validate(raw); err != nil {
		return domain.WorkflowConfig{}, &domain.ConfigError{Mode: mode, Reason: "configuration does not match schema", Err: err}
	}

	var cfg domain.WorkflowConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.WorkflowConfig{}, &domain.ConfigError{Mode: mode, Reason: "decoding configuration", Err: err}
	}

	for i, rule := range cfg.MappingRules {
		if err := rule.Validate(); err != nil {
			return domain.WorkflowConfig{}, &domain.ConfigError{
				Mode:   mode,
				Reason: fmt.Sprintf("mapping rule %d", i),
				Err:    err,
			}
		}
	}

	return cfg, nil
}
