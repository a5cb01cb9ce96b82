// Package models defines the core domain models for conversation automation
// workflows: node graphs, executions, user responses and the profile records
// they act on.
package models

import "time"

// Workflow is a node graph owned by a single user. Definitions are read-only
// inputs to the engine; a running execution never mutates its workflow.
type Workflow struct {
	ID          string            `json:"id"          validate:"required"`
	OwnerID     string            `json:"owner_id"    validate:"required"`
	Name        string            `json:"name"        validate:"required,min=3"`
	Active      bool              `json:"active"`
	Nodes       []*WorkflowNode   `json:"nodes"`
	Connections []*NodeConnection `json:"connections"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// WhenNodes returns all trigger ("when") nodes of the workflow.
func (w *Workflow) WhenNodes() []*WorkflowNode {
	nodes := make([]*WorkflowNode, 0)

	for _, node := range w.Nodes {
		if node.Type == NodeTypeWhen {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// ConnectionsFrom returns the outgoing connections of a node, in definition
// order.
func (w *Workflow) ConnectionsFrom(nodeID string) []*NodeConnection {
	conns := make([]*NodeConnection, 0)

	for _, conn := range w.Connections {
		if conn.SourceID == nodeID {
			conns = append(conns, conn)
		}
	}

	return conns
}
