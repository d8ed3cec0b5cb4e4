package domain

// Importance distribution keys. The classifier spreads 0..100 across
// these five buckets per message.
const (
	ImportanceUrgentWork     = "UrgentWorkInformation"
	ImportanceRoutineWork    = "RoutineWorkUpdates"
	ImportanceInternalComms  = "InternalCommunications"
	ImportancePromotional    = "Promotional"
	ImportanceNews           = "News"
)

// ImportanceKeys lists all distribution keys in alphabetical order, the
// order used to break ties when two buckets share the maximum.
var ImportanceKeys = []string{
	ImportanceInternalComms,
	ImportanceNews,
	ImportancePromotional,
	ImportanceRoutineWork,
	ImportanceUrgentWork,
}

// Priority labels projected from the importance distribution.
const (
	PriorityImportant   = "important"
	PriorityInformation = "information"
	PriorityUseless     = "useless"
)

// Scores is the importance distribution for one message.
type Scores map[string]int

// Clamp normalizes every value into [0, 100] and drops unknown keys.
func (s Scores) Clamp() Scores {
	out := make(Scores, len(ImportanceKeys))
	for _, key := range ImportanceKeys {
		v := s[key]
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		out[key] = v
	}
	return out
}

// Classification is the full classifier output for one message.
type Classification struct {
	Topic      string `json:"topic"`
	Importance Scores `json:"importance"`
	Priority   string `json:"priority"`

	// Structured points for fresh messages, grouped by thread position
	// (with bare content) for replies
	KeyPoints     []KeyPoint `json:"keypoints,omitempty"`
	BulletSummary []string   `json:"bullet_summary,omitempty"`
	ShortSummary  string     `json:"short_summary,omitempty"`
	OneLine       string     `json:"one_line,omitempty"`
	Answer        string     `json:"answer,omitempty"`
	Relevance     string     `json:"relevance,omitempty"`
}
