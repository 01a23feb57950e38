package conversation

import (
	"time"
)

// ResponsePair is an incoming message and the outgoing reply that
// immediately follows it in chat order, with no other outgoing message in
// between.
type ResponsePair struct {
	ContactAt time.Time
	AgentAt   time.Time
}

// Stats are the per-partition aggregates derived from one ordered pass
// over the events.
type Stats struct {
	StarterDirection Direction
	LastDirection    Direction
	ContactMessages  int
	AgentMessages    int
	UniqueMessages   int
	FollowUps        int
	FirstContactAt   *time.Time
	FirstAgentAt     *time.Time
	ResponsePairs    []ResponsePair
}

// Starter is the aggregate-table label for who opened the conversation.
func (s Stats) Starter() string { return s.StarterDirection.Actor() }

// LastFrom is the aggregate-table label for who wrote the last message.
func (s Stats) LastFrom() string { return s.LastDirection.Actor() }

// Segment derives Stats from a partition's events. Events must already be
// in chat order; a response pair is exactly an (incoming, outgoing)
// adjacency, and a follow-up is an (outgoing, outgoing) adjacency.
func Segment(events []MessageEvent) Stats {
	var s Stats
	if len(events) == 0 {
		return s
	}

	s.StarterDirection = events[0].Direction
	s.LastDirection = events[len(events)-1].Direction

	seen := make(map[string]bool, len(events))
	for i, e := range events {
		if !seen[e.MessageID] {
			seen[e.MessageID] = true
			s.UniqueMessages++
		}

		switch e.Direction {
		case Incoming:
			s.ContactMessages++
			if s.FirstContactAt == nil {
				ts := e.MessageTimestamp
				s.FirstContactAt = &ts
			}
		case Outgoing:
			s.AgentMessages++
			if s.FirstAgentAt == nil {
				ts := e.MessageTimestamp
				s.FirstAgentAt = &ts
			}
		}

		if i == 0 {
			continue
		}
		prev := events[i-1]
		switch {
		case prev.Direction == Incoming && e.Direction == Outgoing:
			s.ResponsePairs = append(s.ResponsePairs, ResponsePair{
				ContactAt: prev.MessageTimestamp,
				AgentAt:   e.MessageTimestamp,
			})
		case prev.Direction == Outgoing && e.Direction == Outgoing:
			s.FollowUps++
		}
	}
	return s
}
