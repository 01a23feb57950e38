package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meridian/chat-insights/internal/conversation"
	"github.com/meridian/chat-insights/internal/pkg/logger"
)

const eventColumns = `EVENT_ID, MESSAGE_ID, CHAT_ID, USER_ID, ORG_ID,
       AGENT_PHONE_NUMBER, SENDER_NUMBER, DIRECTION,
       MESSAGE_TIMESTAMP, INGESTION_TIMESTAMP`

// EventReader streams raw message events out of the MESSAGE_EVENTS table.
// Both queries return rows ordered by (chat, message timestamp, event id)
// so downstream partitioning sees each chat as a contiguous sorted run.
type EventReader struct{ db *sql.DB }

// NewEventReader creates a reader on an open Snowflake pool.
func NewEventReader(db *sql.DB) *EventReader { return &EventReader{db: db} }

// RecentEvents returns a cursor over events ingested within the last
// windowDays days. This feeds the daily pipeline.
func (r *EventReader) RecentEvents(ctx context.Context, windowDays int) (*EventCursor, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM MESSAGE_EVENTS
		WHERE INGESTION_TIMESTAMP >= DATEADD(day, -?, CURRENT_TIMESTAMP())
		ORDER BY CHAT_ID, MESSAGE_TIMESTAMP, EVENT_ID
	`, eventColumns)

	rows, err := r.db.QueryContext(ctx, query, windowDays)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return &EventCursor{rows: rows}, nil
}

// UserEvents returns a cursor over one user's full event history. This
// feeds the lifetime backfill pipeline. An empty orgID matches all orgs.
func (r *EventReader) UserEvents(ctx context.Context, userID, orgID string) (*EventCursor, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM MESSAGE_EVENTS
		WHERE USER_ID = ?
	`, eventColumns)
	args := []interface{}{userID}
	if orgID != "" {
		query += ` AND ORG_ID = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY CHAT_ID, MESSAGE_TIMESTAMP, EVENT_ID`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user events: %w", err)
	}
	return &EventCursor{rows: rows}, nil
}

// EventCursor is a lazy iterator over event rows. Rows that cannot be
// interpreted (unknown direction, missing timestamp) are skipped and
// counted rather than failing the stream.
type EventCursor struct {
	rows    *sql.Rows
	cur     conversation.MessageEvent
	err     error
	skipped int
	warned  bool
}

// Next advances to the next usable event. It returns false at the end of
// the stream or on the first scan error; check Err afterwards.
func (c *EventCursor) Next() bool {
	for c.rows.Next() {
		var (
			e            conversation.MessageEvent
			agentPhone   sql.NullString
			senderNumber sql.NullString
			directionRaw string
			messageTS    sql.NullTime
			ingestionTS  sql.NullTime
		)
		if err := c.rows.Scan(
			&e.EventID, &e.MessageID, &e.ChatID, &e.UserID, &e.OrgID,
			&agentPhone, &senderNumber, &directionRaw,
			&messageTS, &ingestionTS,
		); err != nil {
			c.err = fmt.Errorf("scan event row: %w", err)
			return false
		}

		direction, err := conversation.ParseDirection(directionRaw)
		if err != nil || !messageTS.Valid {
			c.skipped++
			if !c.warned {
				c.warned = true
				logger.Warn("skipping events with unusable rows", "event_id", e.EventID, "direction", directionRaw)
			} else {
				logger.Debug("skipping unusable event row", "event_id", e.EventID, "direction", directionRaw)
			}
			continue
		}

		e.AgentPhoneNumber = agentPhone.String
		e.SenderNumber = senderNumber.String
		e.Direction = direction
		e.MessageTimestamp = messageTS.Time
		if ingestionTS.Valid {
			e.IngestionTimestamp = ingestionTS.Time
		}
		c.cur = e
		return true
	}
	if err := c.rows.Err(); err != nil {
		c.err = fmt.Errorf("iterate events: %w", err)
	}
	return false
}

// Event returns the row Next positioned on.
func (c *EventCursor) Event() conversation.MessageEvent { return c.cur }

// Skipped returns how many rows were dropped as unusable.
func (c *EventCursor) Skipped() int { return c.skipped }

// Err returns the terminal error, if any.
func (c *EventCursor) Err() error { return c.err }

// Close releases the underlying rows.
func (c *EventCursor) Close() error { return c.rows.Close() }
