package classify

import "ingest_server/core/domain"

// urgentDefinitive is the score at which urgent work mail is important no
// matter what the other buckets say.
const urgentDefinitive = 50

// ProjectPriority collapses an importance distribution into a priority
// label. An urgent-work score of 50 or more is definitive. Otherwise the
// highest-scoring bucket decides, with ties broken by alphabetical key
// order, and an all-zero distribution lands on information.
func ProjectPriority(scores domain.Scores) string {
	scores = scores.Clamp()

	if scores[domain.ImportanceUrgentWork] >= urgentDefinitive {
		return domain.PriorityImportant
	}

	maxKey := ""
	maxValue := 0
	for _, key := range domain.ImportanceKeys {
		if scores[key] > maxValue {
			maxKey = key
			maxValue = scores[key]
		}
	}
	if maxValue == 0 {
		return domain.PriorityInformation
	}

	switch maxKey {
	case domain.ImportancePromotional, domain.ImportanceNews:
		return domain.PriorityUseless
	case domain.ImportanceUrgentWork:
		return domain.PriorityImportant
	default:
		return domain.PriorityInformation
	}
}
