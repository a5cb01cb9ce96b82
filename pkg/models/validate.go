package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs tag-based validation on any model.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

// ValidateWorkflow checks a workflow definition beyond struct tags: every
// node must carry the payload matching its type and every connection must
// reference nodes that exist in the graph.
func ValidateWorkflow(workflow *Workflow) error {
	if err := validate.Struct(workflow); err != nil {
		return err
	}

	ids := make(map[string]bool, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if ids[node.ID] {
			return fmt.Errorf("duplicate node id %q", node.ID)
		}

		ids[node.ID] = true

		if err := validateNodePayload(node); err != nil {
			return err
		}
	}

	for _, conn := range workflow.Connections {
		if !ids[conn.SourceID] {
			return fmt.Errorf("connection %q references unknown source node %q", conn.ID, conn.SourceID)
		}

		if !ids[conn.TargetID] {
			return fmt.Errorf("connection %q references unknown target node %q", conn.ID, conn.TargetID)
		}
	}

	return nil
}

func validateNodePayload(node *WorkflowNode) error {
	switch node.Type {
	case NodeTypeWhen:
		if node.When == nil {
			return fmt.Errorf("when node %q is missing its trigger config", node.ID)
		}

		if node.When.WhenType == WhenScheduled && node.When.Schedule == nil {
			return fmt.Errorf("scheduled when node %q is missing its schedule", node.ID)
		}
	case NodeTypeCondition:
		if node.Condition == nil {
			return fmt.Errorf("condition node %q is missing its condition group", node.ID)
		}
	case NodeTypeAction:
		if node.Action == nil {
			return fmt.Errorf("action node %q is missing its action config", node.ID)
		}
	case NodeTypeWaiting:
		if node.Waiting == nil {
			return fmt.Errorf("waiting node %q is missing its waiting config", node.ID)
		}

		if node.Waiting.TimeoutEnabled && node.Waiting.Timeout == nil {
			return fmt.Errorf("waiting node %q enables a timeout without a duration", node.ID)
		}
	default:
		return fmt.Errorf("node %q has unknown type %q", node.ID, node.Type)
	}

	return nil
}
