// Package llm defines the content generator capability that turns an
// aggregated clinical context into narrative text, plus its implementations.
package llm

import (
	"context"
	"errors"
)

var (
	ErrUnavailable = errors.New("content generator unavailable")
	ErrTimeout     = errors.New("content generator timed out")
)

type Request struct {
	ContentType string `json:"content_type"`
	Discipline  string `json:"discipline,omitempty"`
	Context     any    `json:"context"`
}

type Response struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Summarizer is implemented by contexts that can describe themselves in one
// line for the offline generator.
type Summarizer interface {
	Summary() string
}
