package aiprompt

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Result is the optimizer's answer: a rewritten English prompt, the alias of
// the model it picked from the offered list, and a short reason.
type Result struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Reason string `json:"reason"`
}

// Optimizer rewrites a plain user description into a generation-ready prompt
// and picks a model for it.
type Optimizer interface {
	Optimize(ctx context.Context, description, modelList string) (*Result, error)
}

// StaticOptimizer is the offline fallback: it passes the description through
// with a sentence-cased lead and stock quality tags, leaving model selection
// to the caller's default.
type StaticOptimizer struct{}

func NewStaticOptimizer() *StaticOptimizer {
	return &StaticOptimizer{}
}

func (s *StaticOptimizer) Optimize(ctx context.Context, description, modelList string) (*Result, error) {
	description = strings.TrimSpace(description)
	c := cases.Title(language.English)
	if first, rest, ok := strings.Cut(description, " "); ok {
		description = c.String(first) + " " + rest
	} else if description != "" {
		description = c.String(description)
	}
	return &Result{
		Prompt: description + ", highly detailed, sharp focus, high quality",
		Reason: "prompt optimizer not configured, used the description as-is",
	}, nil
}

var _ Optimizer = (*StaticOptimizer)(nil)
