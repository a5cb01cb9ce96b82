package models

// BooleanOperator combines the clauses of a condition group.
type BooleanOperator string

const (
	OperatorAnd BooleanOperator = "and"
	OperatorOr  BooleanOperator = "or"
)

// ConditionGroup is the payload of a condition node: a set of boolean
// expression clauses combined with and/or. Clause syntax is owned by the
// injected condition evaluator, not by the engine.
type ConditionGroup struct {
	Operator BooleanOperator `json:"operator" validate:"required,oneof=and or"`
	Clauses  []string        `json:"clauses"  validate:"required,min=1"`
}
