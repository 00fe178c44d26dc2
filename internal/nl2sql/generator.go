// Package nl2sql talks to external text-generation providers that turn a
// natural-language question into SQL.
package nl2sql

import (
	"context"
	"errors"
)

// ErrGeneration marks every provider failure: unavailable, transport or
// status errors, undecodable responses and empty output.
var ErrGeneration = errors.New("sql generation failed")

var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrProviderUnhealthy = errors.New("provider is not healthy")
)

// Example is a past successful question and its SQL, offered as a few-shot
// sample.
type Example struct {
	NaturalQuery string `json:"natural_query"`
	SQL          string `json:"sql"`
}

type Request struct {
	Question      string    `json:"question"`
	SchemaContext string    `json:"schema_context"`
	Examples      []Example `json:"examples,omitempty"`
	Dialect       string    `json:"dialect,omitempty"`
}

type Result struct {
	SQL        string  `json:"sql"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	TokensUsed int     `json:"tokens_used"`
	Confidence float64 `json:"confidence"`
}

type Generator interface {
	GenerateSQL(ctx context.Context, req Request) (Result, error)
}

// Provider is a Generator that can be placed in a Chain.
type Provider interface {
	Generator
	Name() string
}

// HealthChecker is implemented by providers that can be checked with a
// minimal request instead of a real question.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}
