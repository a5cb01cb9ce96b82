package web

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// workflowSchema is the structural contract for imported workflow documents.
// Struct-level validation (models.ValidateWorkflow) still runs afterwards;
// the schema rejects malformed documents with field-level messages before
// anything is unmarshalled.
const workflowSchema = `{
	"type": "object",
	"required": ["owner_id", "name", "nodes"],
	"properties": {
		"id": {"type": "string"},
		"owner_id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 3},
		"active": {"type": "boolean"},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"type": {"enum": ["when", "condition", "action", "waiting"]},
					"when": {"type": "object"},
					"condition": {"type": "object"},
					"action": {"type": "object"},
					"waiting": {"type": "object"}
				}
			}
		},
		"connections": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "source_id", "target_id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"source_id": {"type": "string", "minLength": 1},
					"target_id": {"type": "string", "minLength": 1},
					"type": {"enum": ["success", "failure", "skip", "timeout"]},
					"condition": {"type": "string"}
				}
			}
		}
	}
}`

// validateWorkflowDocument checks a raw workflow document against the import
// schema.
func validateWorkflowDocument(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(workflowSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(descriptions, "; "))
	}

	return nil
}
