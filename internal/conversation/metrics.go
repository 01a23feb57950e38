package conversation

import (
	"github.com/meridian/chat-insights/internal/schedule"
	"github.com/meridian/chat-insights/internal/workhours"
)

// Metrics are the working-hours response-time figures for one partition.
type Metrics struct {
	// AverageResponseSeconds is the mean working-seconds response time
	// over the partition's response pairs. Pairs resolving to zero are
	// excluded from the mean: a reply sent entirely outside working hours
	// says nothing about responsiveness. Zero when no pair contributes.
	AverageResponseSeconds float64

	// FirstResponseSeconds is the working time between the first contact
	// message and the first agent message. Nil when the agent never
	// wrote, the contact never wrote, or the agent wrote first.
	FirstResponseSeconds *float64
}

// ComputeMetrics folds a partition's stats through the working-hours
// calculator under the given weekly calendar.
func ComputeMetrics(s Stats, calc *workhours.Calculator, week schedule.Week) Metrics {
	var m Metrics

	var sum float64
	var n int
	for _, p := range s.ResponsePairs {
		secs := calc.WorkingSeconds(p.ContactAt, p.AgentAt, week)
		if secs > 0 {
			sum += secs
			n++
		}
	}
	if n > 0 {
		m.AverageResponseSeconds = sum / float64(n)
	}

	if s.FirstContactAt != nil && s.FirstAgentAt != nil && s.FirstAgentAt.After(*s.FirstContactAt) {
		secs := calc.WorkingSeconds(*s.FirstContactAt, *s.FirstAgentAt, week)
		m.FirstResponseSeconds = &secs
	}
	return m
}
