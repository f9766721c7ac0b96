package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/cascade/internal/types"
)

func TestDeriveStatusPrecedence(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		rec  types.Recording
		want types.Status
	}{
		{
			name: "fresh recording is queued",
			rec:  types.Recording{},
			want: types.StatusQueued,
		},
		{
			name: "executing stage means processing",
			rec: types.Recording{
				RequestedStages: []string{"a", "b"},
				CurrentStages:   []string{"a"},
			},
			want: types.StatusProcessing,
		},
		{
			name: "all requested stages done means ready for review",
			rec: types.Recording{
				RequestedStages: []string{"a", "b"},
				CompletedStages: []string{"a", "b"},
			},
			want: types.StatusReadyForReview,
		},
		{
			name: "partial completion without activity is queued",
			rec: types.Recording{
				RequestedStages: []string{"a", "b"},
				CompletedStages: []string{"a"},
			},
			want: types.StatusQueued,
		},
		{
			name: "blocked stage wins over completion",
			rec: types.Recording{
				RequestedStages: []string{"a"},
				CompletedStages: []string{"a"},
				BlockedStage:    "gated",
			},
			want: types.StatusAwaitingInput,
		},
		{
			name: "error wins over blocked",
			rec: types.Recording{
				BlockedStage: "gated",
				Errors:       map[string]string{"x": "boom"},
			},
			want: types.StatusError,
		},
		{
			name: "cancel wins over everything",
			rec: types.Recording{
				CancelRequested: true,
				Errors:          map[string]string{"x": "boom"},
				BlockedStage:    "gated",
				ApprovedAt:      &now,
			},
			want: types.StatusCancelled,
		},
		{
			name: "approval persists after review",
			rec: types.Recording{
				RequestedStages: []string{"a"},
				CompletedStages: []string{"a"},
				ApprovedAt:      &now,
			},
			want: types.StatusApproved,
		},
		{
			name: "soft failures alone do not degrade status",
			rec: types.Recording{
				RequestedStages: []string{"a"},
				CompletedStages: []string{"a"},
				Soft:            map[string]string{"a": "warning"},
			},
			want: types.StatusReadyForReview,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			assert.Equal(t, tt.want, DeriveStatus(&rec))
		})
	}
}
