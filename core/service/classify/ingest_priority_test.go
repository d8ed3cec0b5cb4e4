package classify

import (
	"testing"

	"ingest_server/core/domain"
)

func TestProjectPriority(t *testing.T) {
	tests := []struct {
		name   string
		scores domain.Scores
		want   string
	}{
		{
			name:   "urgent at threshold is definitive",
			scores: domain.Scores{domain.ImportanceUrgentWork: 50},
			want:   domain.PriorityImportant,
		},
		{
			name: "urgent threshold beats a higher promotional score",
			scores: domain.Scores{
				domain.ImportanceUrgentWork:  50,
				domain.ImportancePromotional: 90,
			},
			want: domain.PriorityImportant,
		},
		{
			name: "urgent below threshold but still max",
			scores: domain.Scores{
				domain.ImportanceUrgentWork: 40,
				domain.ImportanceNews:       10,
			},
			want: domain.PriorityImportant,
		},
		{
			name:   "promotional max is useless",
			scores: domain.Scores{domain.ImportancePromotional: 80},
			want:   domain.PriorityUseless,
		},
		{
			name:   "news max is useless",
			scores: domain.Scores{domain.ImportanceNews: 60, domain.ImportanceRoutineWork: 30},
			want:   domain.PriorityUseless,
		},
		{
			name:   "routine work max is information",
			scores: domain.Scores{domain.ImportanceRoutineWork: 70},
			want:   domain.PriorityInformation,
		},
		{
			name:   "internal comms max is information",
			scores: domain.Scores{domain.ImportanceInternalComms: 55, domain.ImportancePromotional: 40},
			want:   domain.PriorityInformation,
		},
		{
			name:   "all zero is information",
			scores: domain.Scores{},
			want:   domain.PriorityInformation,
		},
		{
			// Alphabetical key order decides ties:
			// InternalCommunications < News < Promotional < RoutineWorkUpdates < UrgentWorkInformation
			name: "tie between internal comms and news goes to internal comms",
			scores: domain.Scores{
				domain.ImportanceInternalComms: 40,
				domain.ImportanceNews:          40,
			},
			want: domain.PriorityInformation,
		},
		{
			name: "tie between news and promotional goes to news",
			scores: domain.Scores{
				domain.ImportanceNews:        45,
				domain.ImportancePromotional: 45,
			},
			want: domain.PriorityUseless,
		},
		{
			name: "tie between promotional and routine goes to promotional",
			scores: domain.Scores{
				domain.ImportancePromotional: 30,
				domain.ImportanceRoutineWork: 30,
			},
			want: domain.PriorityUseless,
		},
		{
			name: "five-way tie goes to internal comms",
			scores: domain.Scores{
				domain.ImportanceInternalComms: 20,
				domain.ImportanceNews:          20,
				domain.ImportancePromotional:   20,
				domain.ImportanceRoutineWork:   20,
				domain.ImportanceUrgentWork:    20,
			},
			want: domain.PriorityInformation,
		},
		{
			name:   "out of range scores are clamped",
			scores: domain.Scores{domain.ImportancePromotional: 400, domain.ImportanceUrgentWork: -10},
			want:   domain.PriorityUseless,
		},
		{
			name:   "negative urgent does not trip the threshold",
			scores: domain.Scores{domain.ImportanceUrgentWork: -50, domain.ImportanceNews: 5},
			want:   domain.PriorityUseless,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProjectPriority(tt.scores); got != tt.want {
				t.Errorf("ProjectPriority(%v) = %q, want %q", tt.scores, got, tt.want)
			}
		})
	}
}

func TestProjectPriorityDeterministic(t *testing.T) {
	scores := domain.Scores{
		domain.ImportanceNews:        33,
		domain.ImportancePromotional: 33,
		domain.ImportanceRoutineWork: 33,
	}
	first := ProjectPriority(scores)
	for i := 0; i < 100; i++ {
		if got := ProjectPriority(scores); got != first {
			t.Fatalf("projection not deterministic: %q then %q", first, got)
		}
	}
}
