package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, "")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   Input
		want string
	}{
		{"calm message", Input{}, DecisionNone},
		{"frustrated message", Input{FrustrationHits: 1}, DecisionEscalate},
		{"low rating", Input{Rating: 2}, DecisionEscalate},
		{"lowest rating", Input{Rating: 1}, DecisionEscalate},
		{"neutral rating", Input{Rating: 3}, DecisionNone},
		{"good rating", Input{Rating: 5}, DecisionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Evaluate(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCustomPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package escalation

import rego.v1

default decision := "none"

decision := "escalate" if input.frustration_hits >= 2
`)
	require.NoError(t, err)

	ok, err := engine.ShouldEscalate(ctx, Input{FrustrationHits: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = engine.ShouldEscalate(ctx, Input{FrustrationHits: 2})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package escalation\n decision := ")
	assert.Error(t, err)
}

func TestFrustrationHits(t *testing.T) {
	assert.Zero(t, FrustrationHits("Quanto custa um encanador?"))
	assert.Equal(t, 1, FrustrationHits("Isso é PÉSSIMO"))
	assert.Equal(t, 2, FrustrationHits("não ajudou, quero falar com atendente"))
	assert.Equal(t, 1, FrustrationHits("This bot is useless."))
	assert.Zero(t, FrustrationHits("lixeira"), "whole words only")
}
