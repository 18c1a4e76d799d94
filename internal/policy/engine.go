// Package policy decides when a conversation is handed off to human support.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the escalation policy.
const (
	DecisionEscalate = "escalate"
	DecisionNone     = "none"
)

// Input is the document the escalation policy is evaluated against.
type Input struct {
	FrustrationHits int  `json:"frustration_hits"`
	Rating          int  `json:"rating"`
	Escalated       bool `json:"escalated"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the escalation policy. An empty policyContent uses
// DefaultPolicy.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	if policyContent == "" {
		policyContent = DefaultPolicy
	}
	r := rego.New(
		rego.Query("data.escalation.decision"),
		rego.Module("escalation.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns DecisionEscalate or DecisionNone for in.
func (e *Engine) Evaluate(ctx context.Context, in Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"frustration_hits": in.FrustrationHits,
		"rating":           in.Rating,
		"escalated":        in.Escalated,
	}))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionNone, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok && s == DecisionEscalate {
		return DecisionEscalate, nil
	}
	return DecisionNone, nil
}

// ShouldEscalate is Evaluate reduced to a bool.
func (e *Engine) ShouldEscalate(ctx context.Context, in Input) (bool, error) {
	d, err := e.Evaluate(ctx, in)
	if err != nil {
		return false, err
	}
	return d == DecisionEscalate, nil
}

// DefaultPolicy escalates on any frustration keyword or a rating of 2 or less.
const DefaultPolicy = `
package escalation

import rego.v1

decision := "escalate" if {
	input.frustration_hits > 0
} else := "escalate" if {
	input.rating > 0
	input.rating <= 2
} else := "none"
`
