// Package conversation partitions raw message events into chats and days,
// derives response pairs and per-partition counters, and folds them into
// response-time metrics.
package conversation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Direction is the flow of a message relative to the workspace.
type Direction string

const (
	Incoming Direction = "INCOMING"
	Outgoing Direction = "OUTGOING"
)

// ParseDirection normalizes a raw direction column value.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INCOMING":
		return Incoming, nil
	case "OUTGOING":
		return Outgoing, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Actor maps a direction to the party it represents in the aggregate
// tables: outgoing messages are written by an employee, incoming by the
// contact.
func (d Direction) Actor() string {
	if d == Outgoing {
		return "employee"
	}
	return "contact"
}

// MessageEvent is one immutable row from the message event store.
type MessageEvent struct {
	EventID            string
	MessageID          string
	ChatID             string
	UserID             string
	OrgID              string
	AgentPhoneNumber   string
	SenderNumber       string
	Direction          Direction
	MessageTimestamp   time.Time
	IngestionTimestamp time.Time
}

// PartitionKey identifies one independent unit of computation. Date is the
// civil day in the pipeline's reference zone for the daily pipeline and
// empty for the lifetime pipeline.
type PartitionKey struct {
	UserID string
	OrgID  string
	ChatID string
	Date   string
}

func (k PartitionKey) String() string {
	if k.Date == "" {
		return fmt.Sprintf("%s/%s/%s", k.UserID, k.OrgID, k.ChatID)
	}
	return fmt.Sprintf("%s/%s/%s/%s", k.UserID, k.OrgID, k.ChatID, k.Date)
}

// Partition is an ordered slice of one key's events. Events are sorted by
// message timestamp with event ID as the tiebreaker, which fixes a total
// order even when two messages share an instant.
type Partition struct {
	Key    PartitionKey
	Events []MessageEvent
}

// AgentPhone returns the partition's agent phone number: the first
// non-empty value in event order.
func (p Partition) AgentPhone() string {
	for _, e := range p.Events {
		if e.AgentPhoneNumber != "" {
			return e.AgentPhoneNumber
		}
	}
	return ""
}

// Start returns the timestamp of the partition's first event.
func (p Partition) Start() time.Time {
	if len(p.Events) == 0 {
		return time.Time{}
	}
	return p.Events[0].MessageTimestamp
}

// SortEvents orders events by message timestamp, breaking ties by event ID.
func SortEvents(events []MessageEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].MessageTimestamp.Equal(events[j].MessageTimestamp) {
			return events[i].EventID < events[j].EventID
		}
		return events[i].MessageTimestamp.Before(events[j].MessageTimestamp)
	})
}

// PartitionLifetime groups events into one partition per conversation,
// keyed by (user, org, chat). Partitions come back in key order so a run
// produces the same plan for the same inputs.
func PartitionLifetime(events []MessageEvent) []Partition {
	return partition(events, func(e MessageEvent) PartitionKey {
		return PartitionKey{UserID: e.UserID, OrgID: e.OrgID, ChatID: e.ChatID}
	})
}

// PartitionDaily groups events into one partition per conversation per
// civil day of the message timestamp, evaluated in loc.
func PartitionDaily(events []MessageEvent, loc *time.Location) []Partition {
	if loc == nil {
		loc = time.UTC
	}
	return partition(events, func(e MessageEvent) PartitionKey {
		return PartitionKey{
			UserID: e.UserID,
			OrgID:  e.OrgID,
			ChatID: e.ChatID,
			Date:   e.MessageTimestamp.In(loc).Format("2006-01-02"),
		}
	})
}

func partition(events []MessageEvent, keyFn func(MessageEvent) PartitionKey) []Partition {
	groups := make(map[PartitionKey][]MessageEvent)
	for _, e := range events {
		k := keyFn(e)
		groups[k] = append(groups[k], e)
	}

	keys := make([]PartitionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]Partition, 0, len(keys))
	for _, k := range keys {
		evs := groups[k]
		SortEvents(evs)
		out = append(out, Partition{Key: k, Events: evs})
	}
	return out
}
