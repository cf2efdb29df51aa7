package ports

import (
	"context"

	"github.com/promptgym-dev/promptgym/internal/domain"
)

// StateStore persists the controller snapshot and the append-only trial
// history so a run can resume exactly where it left off.
type StateStore interface {
	SaveState(ctx context.Context, state *domain.TrainingState) error
	// LoadState returns nil (no error) when no snapshot exists yet.
	LoadState(ctx context.Context) (*domain.TrainingState, error)
	AppendTrial(ctx context.Context, rec *domain.TrialRecord) error
	RecentTrials(ctx context.Context, n int) ([]domain.TrialRecord, error)
	Close() error
}
