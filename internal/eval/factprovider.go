package eval

import (
	"context"
	"fmt"
)

// FactProvider supplies raw fact values for a contract, keyed by fact id.
// Implementations fetch from whatever backs the facts: static input,
// files, upstream systems.
type FactProvider interface {
	Provide(ctx context.Context, contract *Contract) (map[string]any, error)
}

// ProviderError wraps a failure to fetch facts.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("fact provider error: %s", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StaticFactProvider returns a fixed fact map.
type StaticFactProvider struct {
	Facts map[string]any
}

func (p *StaticFactProvider) Provide(context.Context, *Contract) (map[string]any, error) {
	return p.Facts, nil
}

// EvaluateWithProvider fetches facts from a provider and evaluates.
func EvaluateWithProvider(ctx context.Context, contract *Contract, provider FactProvider) (*EvaluationResult, error) {
	facts, err := provider.Provide(ctx, contract)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	input := make(map[string]any, len(facts))
	for k, v := range facts {
		input[k] = v
	}
	return Evaluate(contract, input)
}
