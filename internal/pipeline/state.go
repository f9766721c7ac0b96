package pipeline

import "github.com/jonathan/cascade/internal/types"

// DeriveStatus computes a recording's lifecycle status from its control
// flags and stage bookkeeping. Status is never stored authoritatively; it
// is recomputed after every mutation so the flags stay the single source
// of truth.
//
// Precedence: a requested cancel wins over everything, then a hard-failed
// stage, then a gated stage awaiting input, then operator approval.
func DeriveStatus(rec *types.Recording) types.Status {
	switch {
	case rec.CancelRequested:
		return types.StatusCancelled
	case len(rec.Errors) > 0:
		return types.StatusError
	case rec.BlockedStage != "":
		return types.StatusAwaitingInput
	case rec.ApprovedAt != nil:
		return types.StatusApproved
	case len(rec.CurrentStages) > 0:
		return types.StatusProcessing
	case requestedComplete(rec):
		return types.StatusReadyForReview
	default:
		return types.StatusQueued
	}
}

func requestedComplete(rec *types.Recording) bool {
	if len(rec.RequestedStages) == 0 {
		return false
	}
	for _, name := range rec.RequestedStages {
		if !rec.StageCompleted(name) {
			return false
		}
	}
	return true
}
