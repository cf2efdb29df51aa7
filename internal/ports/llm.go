package ports

import (
	"context"

	"github.com/promptgym-dev/promptgym/internal/domain"
)

// LLMClient abstracts text-generation calls for the optimization engine.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Scorer judges a candidate artifact against the current one in the light
// of a rollout digest. Implementations must return a combined score in
// [0,1] and default unparseable criteria to neutral rather than failing.
type Scorer interface {
	Score(ctx context.Context, digest, current, candidate string) (*domain.JudgeScore, error)
}
